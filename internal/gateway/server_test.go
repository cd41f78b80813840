package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conclave-ai/conclave/internal/config"
)

func TestNewServerDefaults(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server, err := NewServer(&config.Config{}, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	if server.quotaGate == nil {
		t.Fatal("expected quota gate to be constructed")
	}
	if server.councilBus == nil {
		t.Fatal("expected council topic bus to be constructed")
	}
	if server.jobStore == nil {
		t.Fatal("expected in-memory job store without a database url")
	}
	if server.stores.Agents == nil || server.stores.Users == nil {
		t.Fatal("expected in-memory storage stores without a database url")
	}
	if server.toolManager == nil {
		t.Fatal("expected tool manager to be constructed")
	}
}

func TestNewServerNilConfig(t *testing.T) {
	server, err := NewServer(nil, nil)
	if err != nil {
		t.Fatalf("NewServer(nil, nil) error = %v", err)
	}
	if server.config == nil {
		t.Fatal("expected empty config to be substituted")
	}
}

func TestStopWithoutStart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := NewServer(&config.Config{}, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestHealthzReportsOK(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := NewServer(&config.Config{}, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	server.handleHealthz(rec, req)

	if rec.Code != 200 {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body == "" || body[0] != '{' {
		t.Fatalf("healthz body = %q, want JSON object", body)
	}
}
