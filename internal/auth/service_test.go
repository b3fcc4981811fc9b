package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"Prophet-Chain/internal/config"
	"Prophet-Chain/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Use(logger.Discard())
	os.Exit(m.Run())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	env := map[string]string{"OPS_KEY": "ops-secret"}
	svc, err := newService(config.AuthConfig{
		Enabled: true,
		APIKeys: []config.APIKeyConfig{
			{ID: "writer", Key: "writer-secret", Permissions: []string{PermissionCreate, PermissionRead}},
			{ID: "ops", KeyEnv: "OPS_KEY", Permissions: []string{PermissionRead}},
		},
	}, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	return svc
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService(t)

	subject, err := svc.Authenticate(context.Background(), "Bearer writer-secret", "")
	if err != nil || subject.ID != "writer" {
		t.Fatalf("bearer: subject=%v err=%v", subject, err)
	}
	subject, err = svc.Authenticate(context.Background(), "", "ops-secret")
	if err != nil || subject.ID != "ops" {
		t.Fatalf("header: subject=%v err=%v", subject, err)
	}
	if _, err := svc.Authenticate(context.Background(), "", ""); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "Bearer nope", ""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestDisabledServiceGrantsEverything(t *testing.T) {
	svc, err := NewService(config.AuthConfig{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	subject, err := svc.Authenticate(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if err := subject.Authorize(PermissionCreate, PermissionRead); err != nil {
		t.Fatalf("anonymous should be authorised: %v", err)
	}
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	cases := []config.AuthConfig{
		{Enabled: true},
		{Enabled: true, APIKeys: []config.APIKeyConfig{{ID: "a"}}},
		{Enabled: true, APIKeys: []config.APIKeyConfig{{Key: "k"}}},
		{Enabled: true, APIKeys: []config.APIKeyConfig{{ID: "a", Key: "1"}, {ID: "a", Key: "2"}}},
	}
	for i, cfg := range cases {
		if _, err := newService(cfg, func(string) (string, bool) { return "", false }); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t)
	handler := svc.Middleware(MiddlewareConfig{RequiredPermissions: map[string][]string{
		http.MethodPost: {PermissionCreate},
		"*":             {PermissionRead},
	}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SubjectID(r.Context()) == "" {
			t.Errorf("subject missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		method string
		key    string
		want   int
	}{
		{http.MethodGet, "", http.StatusUnauthorized},
		{http.MethodGet, "wrong", http.StatusUnauthorized},
		{http.MethodGet, "ops-secret", http.StatusNoContent},
		{http.MethodPost, "ops-secret", http.StatusForbidden},
		{http.MethodPost, "writer-secret", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/api/v1/prophecies", nil)
		if tc.key != "" {
			req.Header.Set(HeaderAPIKey, tc.key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s with %q: status %d, want %d", tc.method, tc.key, rec.Code, tc.want)
		}
	}
}
