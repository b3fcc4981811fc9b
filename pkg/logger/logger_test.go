package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriterKeepsBoundedBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	w, err := newRotatingWriter(path, 1, 2, 30)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.maxSize = 16
	tick := time.Now()
	w.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte("0123456789abcd\n")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	backups, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups, got %d: %v", len(backups), backups)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat active file: %v", err)
	}
	if info.Size() != 15 {
		t.Fatalf("expected active file to hold one line, got %d bytes", info.Size())
	}
}

func TestInitWritesToFileAndAudit(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	auditPath := filepath.Join(dir, "audit", "audit.log")

	if err := Init(Config{Level: "debug", Format: "text", OutputPaths: []string{logPath}, Audit: AuditConfig{Enabled: true, Path: auditPath}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	Named("guard").Debug("transition", slog.String("state", "simulating"))
	Audit().Info("transaction_settled", slog.String("tx_hash", "0xabc"))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	appLog, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	if !strings.Contains(string(appLog), "component=guard") {
		t.Fatalf("missing component attr: %s", appLog)
	}
	auditLog, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(auditLog), `"tx_hash":"0xabc"`) {
		t.Fatalf("missing audit entry: %s", auditLog)
	}
	Use(Discard())
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := IntoContext(context.Background(), l.With("request_id", "r-1"))
	FromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), "request_id=r-1") {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("expected global fallback")
	}
}
