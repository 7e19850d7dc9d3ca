package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestClientMiddleware_NoCookie_IssuesClientID(t *testing.T) {
	ws, _ := newUnresolvedWorkspace(t, "ws")
	source := &staticSource{ws: ws}

	var injected bool
	handler := NewClientMiddleware(source, CookieConfig{Secure: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, err := WorkspaceFromContext(r.Context())
		injected = err == nil && got == ws
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !injected {
		t.Fatal("workspace should be injected into context")
	}

	var issued *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == ClientCookieName {
			issued = c
		}
	}
	if issued == nil {
		t.Fatal("client_id cookie should be issued")
	}
	if _, err := uuid.Parse(issued.Value); err != nil {
		t.Errorf("client_id = %q, want UUID", issued.Value)
	}
	if !issued.HttpOnly {
		t.Error("client_id cookie should be HttpOnly")
	}
	if !issued.Secure {
		t.Error("client_id cookie should be Secure when configured")
	}
	if got := source.lastCall().clientID; got != issued.Value {
		t.Errorf("source clientID = %q, want %q", got, issued.Value)
	}
}

func TestClientMiddleware_ExistingCookie_ReusesClientIDAndRestoreToken(t *testing.T) {
	ws, _ := newUnresolvedWorkspace(t, "ws")
	source := &staticSource{ws: ws}
	clientID := uuid.New().String()

	handler := NewClientMiddleware(source, CookieConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: clientID})
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "token-1"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == ClientCookieName {
			t.Error("client_id cookie should not be reissued")
		}
	}

	call := source.lastCall()
	if call.clientID != clientID {
		t.Errorf("clientID = %q, want %q", call.clientID, clientID)
	}
	if call.restoreToken != "token-1" {
		t.Errorf("restoreToken = %q, want token-1", call.restoreToken)
	}
}

func TestClientMiddleware_InvalidCookie_IssuesNewClientID(t *testing.T) {
	ws, _ := newUnresolvedWorkspace(t, "ws")
	source := &staticSource{ws: ws}

	handler := NewClientMiddleware(source, CookieConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: ClientCookieName, Value: "not-a-uuid"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	got := source.lastCall().clientID
	if got == "not-a-uuid" {
		t.Fatal("invalid client_id should be replaced")
	}
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("clientID = %q, want UUID", got)
	}
}

func TestWorkspaceFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := WorkspaceFromContext(req.Context()); err == nil {
		t.Error("expected error when workspace is missing")
	}
}

func TestContextWithWorkspace_FillsHolder(t *testing.T) {
	ws, _ := newUnresolvedWorkspace(t, "ws-holder")
	holder := &workspaceHolder{}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := contextWithHolder(req.Context(), holder)
	ContextWithWorkspace(ctx, ws)

	if holder.get() != ws {
		t.Error("holder should receive the injected workspace")
	}
}
