package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"classhub/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Driver = config.DriverMemory
	cfg.Database.DSN = ""
	cfg.HTTP.Host = "127.0.0.1"
	cfg.Storage.LocalDir = filepath.Join(t.TempDir(), "uploads")
	return cfg
}

func startTestApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	if err := application.Serve(context.Background(), ln); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		application.Stop(ctx)
	})
	return application
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = -1

	application, err := NewApplication(cfg)
	if err == nil {
		t.Fatal("expected invalid configuration to be rejected")
	}
	if application != nil {
		t.Error("no application should be returned for an invalid configuration")
	}
}

func TestNewApplication_UnknownStorageProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Provider = "s3"

	if _, err := NewApplication(cfg); err == nil {
		t.Fatal("expected unknown storage provider to fail")
	}
}

func TestNewApplication_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.DSN = filepath.Join(t.TempDir(), "classhub.db")

	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	defer application.store.Close()

	if err := application.store.HealthCheck(context.Background()); err != nil {
		t.Errorf("migrated store should be healthy: %v", err)
	}
}

func TestApplication_StartServesHealth(t *testing.T) {
	application := startTestApp(t, testConfig(t))

	if !application.hub.IsRunning() {
		t.Error("hub should run after start")
	}

	resp, err := http.Get("http://" + application.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy status, got %q", body.Status)
	}
}

func TestApplication_WebSocketRequiresSession(t *testing.T) {
	application := startTestApp(t, testConfig(t))

	resp, err := http.Get("http://" + application.GetAddr() + "/ws")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without a session, got %d", resp.StatusCode)
	}
}

func TestApplication_StopReleasesComponents(t *testing.T) {
	application, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	if err := application.Serve(context.Background(), ln); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	addr := application.GetAddr()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if application.hub.IsRunning() {
		t.Error("hub should be stopped")
	}
	if err := application.store.HealthCheck(context.Background()); err == nil {
		t.Error("store should be closed")
	}
	if _, err := http.Get("http://" + addr + "/health"); err == nil {
		t.Error("server should no longer accept requests")
	}
}

func TestGetAddr_BeforeStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = 9123

	application, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	defer application.store.Close()

	if got := application.GetAddr(); got != "127.0.0.1:9123" {
		t.Errorf("expected configured address, got %q", got)
	}
}
