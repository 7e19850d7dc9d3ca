package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/expensetracker/internal/model"
)

func serveGate(t *testing.T, timeout time.Duration, req *http.Request) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	handler := NewSessionGateMiddleware(timeout)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called
}

func TestSessionGate_Authenticated_Allows(t *testing.T) {
	ws := newSignedInWorkspace(t, "client-1", "user-1")
	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	req = req.WithContext(ContextWithWorkspace(req.Context(), ws))

	w, called := serveGate(t, time.Second, req)

	if !called {
		t.Fatal("handler should be called for authenticated session")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSessionGate_Anonymous_RedirectsToLogin(t *testing.T) {
	ws := newAnonymousWorkspace(t, "client-1")
	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	req = req.WithContext(ContextWithWorkspace(req.Context(), ws))

	w, called := serveGate(t, time.Second, req)

	if called {
		t.Fatal("handler should not be called for anonymous session")
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Redirect != LoginPath {
		t.Errorf("redirect = %q, want %q", body.Redirect, LoginPath)
	}
}

func TestSessionGate_Unknown_ReturnsPendingNotUnauthorized(t *testing.T) {
	ws, _ := newUnresolvedWorkspace(t, "client-1")
	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	req = req.WithContext(ContextWithWorkspace(req.Context(), ws))

	w, called := serveGate(t, 20*time.Millisecond, req)

	if called {
		t.Fatal("handler should not be called while session is unknown")
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.NewSessionPendingError().Code {
		t.Errorf("code = %q, want SESSION_PENDING", body.Code)
	}
}

func TestSessionGate_ResolvesWhileWaiting(t *testing.T) {
	ws, p := newUnresolvedWorkspace(t, "client-1")
	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)
	req = req.WithContext(ContextWithWorkspace(req.Context(), ws))

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.emit(&model.Session{ID: "s", UserID: "user-1"})
	}()

	w, called := serveGate(t, 2*time.Second, req)

	if !called {
		t.Fatal("handler should be called once the session resolves")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSessionGate_NoWorkspace_Returns500(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/expenses", nil)

	w, called := serveGate(t, time.Second, req)

	if called {
		t.Fatal("handler should not be called without workspace")
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
