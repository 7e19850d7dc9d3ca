package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/expensetracker/internal/identity"
	"github.com/hitoshi/expensetracker/internal/model"
	"github.com/hitoshi/expensetracker/internal/workspace"
)

// stubProvider はテスト用のIdPクライアント。emitでセッション通知を同期的に発行する。
type stubProvider struct {
	identity.Provider

	mu        sync.Mutex
	listeners []identity.SessionListener
	current   *model.Session
}

func (s *stubProvider) ObserveSession(listener identity.SessionListener) func() {
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
	return func() {}
}

func (s *stubProvider) emit(session *model.Session) {
	s.mu.Lock()
	s.current = session
	listeners := append([]identity.SessionListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(session)
	}
}

func (s *stubProvider) Current() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *stubProvider) LinkedMethods(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

func (s *stubProvider) Revalidate(ctx context.Context) error { return nil }

func (s *stubProvider) Close() {}

// newUnresolvedWorkspace はセッション状態が未確定のワークスペースを生成する。
func newUnresolvedWorkspace(t *testing.T, clientID string) (*workspace.Workspace, *stubProvider) {
	t.Helper()
	p := &stubProvider{}
	ws := workspace.New(clientID, p, workspace.Options{})
	t.Cleanup(ws.Close)
	return ws, p
}

// newSignedInWorkspace は指定ユーザーでサインイン済みのワークスペースを生成する。
func newSignedInWorkspace(t *testing.T, clientID, userID string) *workspace.Workspace {
	t.Helper()
	ws, p := newUnresolvedWorkspace(t, clientID)
	p.emit(&model.Session{
		ID:        "session-" + userID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	return ws
}

// newAnonymousWorkspace は未ログインが確定したワークスペースを生成する。
func newAnonymousWorkspace(t *testing.T, clientID string) *workspace.Workspace {
	t.Helper()
	ws, p := newUnresolvedWorkspace(t, clientID)
	p.emit(nil)
	return ws
}

// staticSource は固定のワークスペースを返すWorkspaceSource。
type staticSource struct {
	mu    sync.Mutex
	ws    *workspace.Workspace
	calls []sourceCall
}

type sourceCall struct {
	clientID     string
	restoreToken string
}

func (s *staticSource) Get(clientID, restoreToken string) *workspace.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sourceCall{clientID: clientID, restoreToken: restoreToken})
	return s.ws
}

func (s *staticSource) lastCall() sourceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return sourceCall{}
	}
	return s.calls[len(s.calls)-1]
}
