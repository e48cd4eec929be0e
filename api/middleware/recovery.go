package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorWriter renders the response after a recovered panic
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err interface{})

func defaultErrorWriter(w http.ResponseWriter, r *http.Request, err interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"error":"internal server error"}`))
}

// Recovery returns a middleware that turns handler panics into 500 responses
func Recovery(logger *zap.Logger) func(next http.Handler) http.Handler {
	return RecoveryWithWriter(logger, defaultErrorWriter)
}

// RecoveryWithWriter is Recovery with a custom error response
func RecoveryWithWriter(logger *zap.Logger, write ErrorWriter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)
					write(w, r, err)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
