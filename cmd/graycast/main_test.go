package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/auth"
	"github.com/nerrad567/gray-logic-cast/internal/cast"
	"github.com/nerrad567/gray-logic-cast/internal/device"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/logging"
)

const testSecret = "test-secret-for-development-only-0123456789"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYCAST_CONFIG", path)
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYCAST_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingSecret verifies run refuses to start without a JWT secret.
func TestRun_MissingSecret(t *testing.T) {
	t.Setenv("GRAYCAST_JWT_SECRET", "")
	writeConfig(t, `
site:
  id: test-site
database:
  path: ":memory:"
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Fatalf("run() error = %v, want jwt secret validation error", err)
	}
}

// TestRun_NoBroker verifies run fails cleanly when MQTT is unreachable.
func TestRun_NoBroker(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "graycast-test"
logging:
  level: error
  format: text
security:
  jwt:
    secret: "`+testSecret+`"
`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without a broker")
	}
	if !strings.Contains(err.Error(), "MQTT") {
		t.Errorf("error = %v, want MQTT connection failure", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYCAST_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("GRAYCAST_CONFIG", "/etc/graycast.yaml")
	if got := getConfigPath(); got != "/etc/graycast.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestPrintToken(t *testing.T) {
	t.Setenv("GRAYCAST_JWT_SECRET", "")
	writeConfig(t, `
security:
  jwt:
    secret: "`+testSecret+`"
    issuer: "graycast-test"
`)

	var buf bytes.Buffer
	if err := printToken(&buf, "engine", auth.RoleViewer, time.Hour); err != nil {
		t.Fatalf("printToken: %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(buf.String()), testSecret, "graycast-test")
	if err != nil {
		t.Fatalf("parsing printed token: %v", err)
	}
	if claims.Subject != "engine" || claims.Role != auth.RoleViewer {
		t.Errorf("claims = %+v", claims)
	}

	if err := printToken(&buf, "engine", "owner", time.Hour); err == nil {
		t.Error("unknown role should be rejected")
	}
}

func TestClassFilters(t *testing.T) {
	if got := classFilters(nil); len(got) != len(cast.DefaultClassFilters()) {
		t.Errorf("empty config gave %d filters", len(got))
	}

	filters := classFilters(config.DefaultClasses())
	registry := cast.NewRegistry(filters, 0)

	tests := []struct {
		model   string
		service string
		want    cast.Class
		ok      bool
	}{
		{"Chromecast", "_googlecast._tcp", cast.ClassChromecast, true},
		{"Chromecast Audio", "_googlecast._tcp", cast.ClassChromecastAudio, true},
		{"Google Cast Group", "_googlecast._tcp", cast.ClassChromecastGroup, true},
		{"Nest Hub", "_googlecast._tcp", cast.ClassCastEnabled, true},
		{"Chromecast Ultra", "_googlecast._tcp", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, ok := registry.Classify(tt.model, tt.service)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Classify(%q) = %q, %v; want %q, %v", tt.model, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPrefStore(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	devices := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	d := device.Device{ID: "0123456789abcdef0123456789abcdef", Name: "Lounge", Class: device.ClassChromecast}
	if err := devices.Pair(ctx, &d); err != nil {
		t.Fatalf("Pair: %v", err)
	}

	store := newPrefStore(devices)
	if err := store.SetLoop(ctx, d.ID, true); err != nil {
		t.Fatalf("SetLoop: %v", err)
	}
	prefs, err := store.Prefs(ctx, d.ID)
	if err != nil {
		t.Fatalf("Prefs: %v", err)
	}
	if prefs != (cast.Prefs{Loop: true}) {
		t.Errorf("prefs = %+v", prefs)
	}
	if saved, _ := devices.Prefs(ctx, d.ID); !saved.Loop {
		t.Error("paired device loop preference not persisted")
	}

	// Receivers that were never paired keep their preferences in memory.
	const unpaired = "fedcba9876543210fedcba9876543210"
	if err := store.SetShuffle(ctx, unpaired, true); err != nil {
		t.Fatalf("SetShuffle on unpaired device: %v", err)
	}
	prefs, err = store.Prefs(ctx, unpaired)
	if err != nil {
		t.Fatalf("Prefs on unpaired device: %v", err)
	}
	if prefs != (cast.Prefs{Shuffle: true}) {
		t.Errorf("unpaired prefs = %+v", prefs)
	}
	if _, err := devices.GetDevice(ctx, unpaired); err == nil {
		t.Error("setting a preference should not pair the device")
	}
}

func TestCastCore_SetLoopOnUnpairedDevice(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	core, err := newCastCore(config.Default().Cast, device.NewRegistry(device.NewSQLiteRepository(db.DB)), logging.Discard())
	if err != nil {
		t.Fatalf("newCastCore: %v", err)
	}
	defer core.Close()

	const id = "0123456789abcdef0123456789abcdef"
	if err := core.controller.SetLoop(ctx, id, true); err != nil {
		t.Fatalf("SetLoop() error = %v", err)
	}
	if err := core.controller.SetShuffle(ctx, id, true); err != nil {
		t.Fatalf("SetShuffle() error = %v", err)
	}
}

func TestNewCastCore(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	core, err := newCastCore(config.Default().Cast, device.NewRegistry(device.NewSQLiteRepository(db.DB)), logging.Discard())
	if err != nil {
		t.Fatalf("newCastCore: %v", err)
	}
	defer core.Close()

	if core.controller.Registry() != core.registry || core.controller.Capabilities() != core.caps {
		t.Error("controller should share the core registry and capabilities")
	}
}
