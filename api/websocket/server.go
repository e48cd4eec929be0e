package websocket

import (
	"net/http"

	"github.com/0xmhha/pool-indexer/events"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS layer
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server handles WebSocket connections
type Server struct {
	hub    *Hub
	logger *zap.Logger
}

// NewServer creates a new WebSocket server and starts its hub
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "websocket"))
	hub := NewHub(logger)
	go hub.Run()

	return &Server{
		hub:    hub,
		logger: logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(s.hub, conn, s.logger)
	if !s.hub.register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()

	s.logger.Debug("new websocket connection", zap.String("remote_addr", r.RemoteAddr))
}

// Attach subscribes the hub to the record bus
func (s *Server) Attach(bus *events.Bus) error {
	return s.hub.Attach(bus)
}

// Hub returns the underlying hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stop stops the WebSocket server
func (s *Server) Stop() {
	s.hub.Stop()
}
