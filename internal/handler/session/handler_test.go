package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ecpmlab/advisor/backend/internal/service/account"
	"github.com/ecpmlab/advisor/backend/internal/service/quota"
	"github.com/ecpmlab/advisor/backend/internal/store"
)

func setupRouter(t *testing.T) (*chi.Mux, *store.Memory, *account.Service) {
	t.Helper()
	mem := store.NewMemory(10)
	enforcer := quota.NewEnforcer(mem, 10, 3, nil)
	accounts := account.NewService(mem, nil)
	handler := New(mem, enforcer, accounts, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, mem, accounts
}

func postJSON(r http.Handler, path string, body map[string]string, authorization string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSessionNew(t *testing.T) {
	r, _, _ := setupRouter(t)

	resp := postJSON(r, "/session", map[string]string{"sessionId": "visitor-1"}, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var view View
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.UsageCount != 0 || view.Remaining != 10 || !view.IsNew {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestCreateSessionExisting(t *testing.T) {
	r, _, _ := setupRouter(t)

	postJSON(r, "/session", map[string]string{"sessionId": "visitor-1"}, "")
	resp := postJSON(r, "/session", map[string]string{"sessionId": "visitor-1"}, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var view View
	json.Unmarshal(resp.Body.Bytes(), &view)
	if view.IsNew {
		t.Fatal("existing session reported as new")
	}
}

func TestCreateSessionMissingID(t *testing.T) {
	r, _, _ := setupRouter(t)

	resp := postJSON(r, "/session", map[string]string{}, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestLinkSessionWithValidCredential(t *testing.T) {
	r, _, accounts := setupRouter(t)
	if err := accounts.Register(context.Background(), "tok-1", "acct-1"); err != nil {
		t.Fatalf("register token: %v", err)
	}

	postJSON(r, "/session", map[string]string{"sessionId": "visitor-1"}, "")
	resp := postJSON(r, "/session/link", map[string]string{"sessionId": "visitor-1"}, "Bearer tok-1")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var view View
	json.Unmarshal(resp.Body.Bytes(), &view)
	if view.LinkedAccountID != "acct-1" {
		t.Fatalf("expected linked account, got %+v", view)
	}
	if view.Remaining != quota.UnmeteredRemaining {
		t.Fatalf("linked session should be unmetered, got remaining=%d", view.Remaining)
	}
}

func TestLinkSessionUnknownCredential(t *testing.T) {
	r, _, _ := setupRouter(t)

	postJSON(r, "/session", map[string]string{"sessionId": "visitor-1"}, "")
	resp := postJSON(r, "/session/link", map[string]string{"sessionId": "visitor-1"}, "Bearer nope")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestLinkSessionMissingSession(t *testing.T) {
	r, _, accounts := setupRouter(t)
	accounts.Register(context.Background(), "tok-1", "acct-1")

	resp := postJSON(r, "/session/link", map[string]string{"sessionId": "ghost"}, "Bearer tok-1")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
