package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Prophet-Chain/internal/guard"
	"Prophet-Chain/sdk/go/prophet"

	"github.com/spf13/viper"
)

func TestParseDates(t *testing.T) {
	dates, err := parseDates([]string{"2027-01-02", " 2027-03-04T05:06:07Z ", ""})
	if err != nil {
		t.Fatalf("parseDates: %v", err)
	}
	if len(dates) != 2 {
		t.Fatalf("expected 2 dates, got %d", len(dates))
	}
	if !dates[0].Equal(time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %v", dates[0])
	}

	if _, err := parseDates([]string{"02/01/2027"}); err == nil {
		t.Fatalf("expected error for unsupported layout")
	}
	if _, err := parseDates(nil); err == nil {
		t.Fatalf("expected error for missing dates")
	}
}

func TestCreateFlagsTune(t *testing.T) {
	policy := guard.DefaultPolicy()
	createFlags{confirmTimeout: 2 * time.Minute, alwaysApprove: true}.tune(&policy)
	if policy.ConfirmTimeout != 2*time.Minute {
		t.Fatalf("confirm timeout not applied: %v", policy.ConfirmTimeout)
	}
	if !policy.AlwaysApprove {
		t.Fatalf("--always-approve must disable the skip")
	}
	if policy.ApprovalTimeout != guard.DefaultApprovalTimeout {
		t.Fatalf("unset flags must keep the configured value")
	}
}

func TestSettingsPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ctl.yaml")
	if err := os.WriteFile(path, []byte("api_url: http://from-file:8080\napi_key: file-key\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PROPHET_API_KEY", "env-key")

	v := viper.New()
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"oracles"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := cmd.ParseFlags([]string{"--config", path, "--json"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := initSettings(v, cmd); err != nil {
		t.Fatalf("initSettings: %v", err)
	}

	s := loadSettings(v)
	if s.APIURL != "http://from-file:8080" {
		t.Fatalf("api url: %q", s.APIURL)
	}
	if s.APIKey != "env-key" {
		t.Fatalf("env must override file, got %q", s.APIKey)
	}
	if !s.JSON {
		t.Fatalf("--json flag not bound")
	}
	if s.DaemonConfig != filepath.Join("configs", "prophet.json") {
		t.Fatalf("daemon config default: %q", s.DaemonConfig)
	}
}

func TestSettingsMissingExplicitFile(t *testing.T) {
	root := newRootCmd()
	cmd, _, _ := root.Find([]string{"oracles"})
	if err := cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := initSettings(viper.New(), cmd); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestTxsCommandUsesDaemonAPI(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transactions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[],"limit":5,"offset":0}`))
	}))
	defer srv.Close()

	root := newRootCmd()
	root.SetArgs([]string{"txs", "--api-url", srv.URL, "--api-key", "k1", "--status", "timed_out", "--limit", "5", "--json"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(gotQuery, "status=timed_out") || !strings.Contains(gotQuery, "limit=5") {
		t.Fatalf("unexpected query: %s", gotQuery)
	}
	if gotAuth != "Bearer k1" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
}

func TestDescribeAPIError(t *testing.T) {
	err := describeAPIError(&prophet.APIError{StatusCode: 400, Code: "VALIDATION_FAILED", Message: "Invalid oracle", Field: "oracle"})
	if err.Error() != "Invalid oracle (field oracle)" {
		t.Fatalf("unexpected message: %v", err)
	}

	plain := errors.New("dial tcp: refused")
	if describeAPIError(plain) != plain {
		t.Fatalf("foreign errors must pass through")
	}
}
