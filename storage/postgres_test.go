package storage

import (
	"context"
	"os"
	"testing"
)

// TestPostgresStore runs the store contract against a live database when
// INDEXER_TEST_POSTGRES_DSN is set
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("INDEXER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INDEXER_TEST_POSTGRES_DSN not set")
	}

	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewPostgresStore(&Config{Backend: BackendTypePostgres, PostgresDSN: dsn}, nil)
		if err != nil {
			t.Fatalf("NewPostgresStore() error = %v", err)
		}
		if _, err := s.Reset(context.Background()); err != nil {
			t.Fatalf("Reset() error = %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestNewPostgresStoreRequiresDSN(t *testing.T) {
	if _, err := NewPostgresStore(&Config{Backend: BackendTypePostgres}, nil); err == nil {
		t.Error("expected error for empty DSN")
	}
	if _, err := NewPostgresStore(nil, nil); err == nil {
		t.Error("expected error for nil config")
	}
}
