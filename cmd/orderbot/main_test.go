package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"orderbot/internal/channel"
	"orderbot/internal/config"
	"orderbot/internal/storage"
)

func TestMain(m *testing.M) {
	logger = newLogger(io.Discard, "warn")
	os.Exit(m.Run())
}

func TestExportRange(t *testing.T) {
	now := time.Date(2024, 3, 31, 15, 4, 0, 0, time.UTC)

	from, to, err := exportRange("", "", now)
	if err != nil {
		t.Fatal(err)
	}
	if to.Format("2006-01-02") != "2024-03-31" || from.Format("2006-01-02") != "2024-03-01" {
		t.Errorf("default range = %s..%s", from, to)
	}

	from, to, err = exportRange("2024-02-01", "2024-02-29", now)
	if err != nil {
		t.Fatal(err)
	}
	if from.Day() != 1 || to.Day() != 29 {
		t.Errorf("explicit range = %s..%s", from, to)
	}

	if _, _, err := exportRange("2024-03-10", "2024-03-01", now); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, _, err := exportRange("01/03/2024", "", now); err == nil {
		t.Error("expected error for bad date")
	}
}

func TestBackupRoundTrip(t *testing.T) {
	src := t.TempDir()
	dbPath := filepath.Join(src, "orders.db")
	cfgPath := filepath.Join(src, "config.json")
	mustWrite(t, dbPath, "db-bytes")
	mustWrite(t, dbPath+"-wal", "wal-bytes")
	mustWrite(t, cfgPath, `{"orders":{}}`)

	files := backupFiles(dbPath, cfgPath)
	if len(files) != 3 {
		t.Fatalf("backupFiles = %v", files)
	}

	archive := filepath.Join(t.TempDir(), "b.tar.gz")
	if err := createTarGz(archive, files); err != nil {
		t.Fatal(err)
	}
	names := tarNames(t, archive)
	if strings.Join(names, ",") != "orders.db,orders.db-wal,config.json" {
		t.Errorf("archive members = %v", names)
	}

	dst := t.TempDir()
	restored, err := extractTarGz(archive, filepath.Join(dst, "data", "orders.db"), filepath.Join(dst, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 3 {
		t.Fatalf("restored = %v", restored)
	}
	got, err := os.ReadFile(filepath.Join(dst, "data", "orders.db-wal"))
	if err != nil || string(got) != "wal-bytes" {
		t.Errorf("wal restore = %q, %v", got, err)
	}
}

func TestExtractTarGz_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.tar.gz")
	mustWrite(t, path, "plain text")
	if _, err := extractTarGz(path, "db", "cfg"); err == nil {
		t.Error("expected error")
	}
}

func TestResolveDBPath(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Storage.DBPath = filepath.Join(dir, "x.db")
	cfgPath := filepath.Join(dir, "config.json")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := resolveDBPath(cfgPath)
	if err != nil || got != cfg.Storage.DBPath {
		t.Errorf("resolveDBPath = %q, %v", got, err)
	}

	cfg.Storage.Driver = "postgres"
	cfg.Storage.DSN = "postgres://localhost/erp"
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := resolveDBPath(cfgPath); err == nil {
		t.Error("expected error for postgres")
	}
}

func TestGatewayMux(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "orders.db")
	cfg.Metrics.Enabled = true
	store, err := openStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	webhook := channel.NewWebhook(channel.WebhookConfig{Path: "/api/messages", Logger: logger})
	mux := gatewayMux(cfg, store, nil, webhook)

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/messages", http.StatusMethodNotAllowed},
		{http.MethodGet, "/webhook/whatsapp", http.StatusNotFound},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, rr.Code, tc.want)
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var sb strings.Builder
	l := newLogger(&sb, "warn")
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(sb.String(), "hidden") || !strings.Contains(sb.String(), "shown") {
		t.Errorf("unexpected output: %q", sb.String())
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func tarNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return names
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, h.Name)
	}
}

func TestSettingsThroughStore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.General.LogLevel = "warn"
	cfg.Storage.DBPath = filepath.Join(dir, "orders.db")
	cfgPath := filepath.Join(dir, "config.json")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}
	prevPath, prevLogger := configPath, logger
	configPath = cfgPath
	defer func() { configPath, logger = prevPath, prevLogger }()

	var out strings.Builder
	err := withStore(context.Background(), func(ctx context.Context, store *storage.Store) error {
		if err := store.SetSetting(ctx, "zz_last", "1"); err != nil {
			return err
		}
		if err := store.SetSetting(ctx, "aa_first", "2"); err != nil {
			return err
		}
		settings, err := store.ListSettings(ctx)
		if err != nil {
			return err
		}
		writeSettings(&out, settings)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got := out.String()
	first, last := strings.Index(got, "aa_first = 2"), strings.Index(got, "zz_last = 1")
	if first < 0 || last < 0 || first > last {
		t.Errorf("settings not listed in name order:\n%s", got)
	}
}

func TestWriteSettingsEmpty(t *testing.T) {
	var out strings.Builder
	writeSettings(&out, nil)
	if out.String() != "(no settings)\n" {
		t.Errorf("got %q", out.String())
	}
}
