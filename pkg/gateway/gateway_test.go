package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/toolmeter/gateway/internal/config"
)

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// TestNewAppAssemblesAndServes builds one App (metrics registration is
// global via prometheus.DefaultRegisterer, the same as the teacher's own
// pkg/cedros.App, so only one App is constructed across this package's
// tests) and exercises its public surface end to end.
func TestNewAppAssemblesAndServes(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Server.AdminBootstrapKey = "test-admin-key"
	cfg.Storage.Backend = "" // in-memory, avoid touching the filesystem in tests

	app, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() {
		if err := app.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	if app.Store == nil {
		t.Fatal("expected a non-nil key store")
	}
	if app.Gate == nil {
		t.Fatal("expected a non-nil gate")
	}
	if app.Router() == nil {
		t.Fatal("expected a non-nil router")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected /health to return 200, got %d", rec.Code)
	}
}

func TestBuildKeyStoreDefaultsToMemory(t *testing.T) {
	store, err := buildKeyStore(config.StorageConfig{}, discardLogger())
	if err != nil {
		t.Fatalf("buildKeyStore: %v", err)
	}
	if store == nil {
		t.Fatal("expected a non-nil in-memory key store")
	}
}

func TestBuildKeyStorePostgresFallsBackToMemory(t *testing.T) {
	store, err := buildKeyStore(config.StorageConfig{Backend: "postgres"}, discardLogger())
	if err != nil {
		t.Fatalf("buildKeyStore: %v", err)
	}
	if store == nil {
		t.Fatal("expected a fallback in-memory key store for unimplemented postgres backend")
	}
}
