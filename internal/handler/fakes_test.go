package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/expensetracker/internal/identity"
	"github.com/hitoshi/expensetracker/internal/middleware"
	"github.com/hitoshi/expensetracker/internal/model"
	"github.com/hitoshi/expensetracker/internal/workspace"
)

// --- モック定義 ---

// fakeProvider はworkspace.Providerのテスト用実装。
// 成功したフローはセッションを同期的に通知する。
type fakeProvider struct {
	mu        sync.Mutex
	listeners []identity.SessionListener
	current   *model.Session

	signInFn        func(ctx context.Context, email, password string) (*model.Session, error)
	createAccountFn func(ctx context.Context, email, password string) (*model.Session, error)
	thirdPartyFn    func(ctx context.Context, grant identity.Grant) (*model.Session, error)
	linkFn          func(ctx context.Context, current *model.Session, grant identity.Grant) (*model.Session, error)
	listMethodsFn   func(ctx context.Context, email string) ([]string, error)
	sendResetFn     func(ctx context.Context, email string) error
	confirmResetFn  func(ctx context.Context, token, newPassword string) error
	endSessionFn    func(ctx context.Context) error
	linkedMethodsFn func(ctx context.Context) ([]string, error)
}

func (f *fakeProvider) ObserveSession(listener identity.SessionListener) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, listener)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeProvider) emit(session *model.Session) {
	f.mu.Lock()
	f.current = session
	listeners := append([]identity.SessionListener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(session)
	}
}

func (f *fakeProvider) settle(session *model.Session, err error) (*model.Session, error) {
	if err != nil {
		return nil, err
	}
	f.emit(session)
	return session, nil
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	if f.signInFn == nil {
		return nil, nil
	}
	return f.settle(f.signInFn(ctx, email, password))
}

func (f *fakeProvider) CreateAccountWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	if f.createAccountFn == nil {
		return nil, nil
	}
	return f.settle(f.createAccountFn(ctx, email, password))
}

func (f *fakeProvider) SignInWithThirdParty(ctx context.Context, grant identity.Grant) (*model.Session, error) {
	if f.thirdPartyFn == nil {
		return nil, nil
	}
	return f.settle(f.thirdPartyFn(ctx, grant))
}

func (f *fakeProvider) LinkThirdParty(ctx context.Context, current *model.Session, grant identity.Grant) (*model.Session, error) {
	if f.linkFn == nil {
		return current, nil
	}
	return f.settle(f.linkFn(ctx, current, grant))
}

func (f *fakeProvider) ListSignInMethods(ctx context.Context, email string) ([]string, error) {
	if f.listMethodsFn != nil {
		return f.listMethodsFn(ctx, email)
	}
	return nil, nil
}

func (f *fakeProvider) SendPasswordReset(ctx context.Context, email string) error {
	if f.sendResetFn != nil {
		return f.sendResetFn(ctx, email)
	}
	return nil
}

func (f *fakeProvider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if f.confirmResetFn != nil {
		return f.confirmResetFn(ctx, token, newPassword)
	}
	return nil
}

func (f *fakeProvider) EndSession(ctx context.Context) error {
	if f.endSessionFn != nil {
		if err := f.endSessionFn(ctx); err != nil {
			return err
		}
	}
	f.emit(nil)
	return nil
}

func (f *fakeProvider) Current() *model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeProvider) LinkedMethods(ctx context.Context) ([]string, error) {
	if f.linkedMethodsFn != nil {
		return f.linkedMethodsFn(ctx)
	}
	return []string{}, nil
}

func (f *fakeProvider) Revalidate(ctx context.Context) error { return nil }

func (f *fakeProvider) Close() {}

type mockLoginURL struct {
	states []string
}

func (m *mockLoginURL) LoginURL(state string) string {
	m.states = append(m.states, state)
	return "https://accounts.google.com/o/oauth2/v2/auth?state=" + state
}

// staticWorkspaces は固定のワークスペースを返すWorkspaceSource。
type staticWorkspaces struct {
	ws *workspace.Workspace
}

func (s *staticWorkspaces) Get(clientID, restoreToken string) *workspace.Workspace {
	return s.ws
}

// --- ヘルパー ---

func testSession(userID string) *model.Session {
	return &model.Session{
		ID:        "session-" + userID,
		UserID:    userID,
		Email:     userID + "@example.com",
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// newTestWorkspace はfakeProviderを使うワークスペースを生成する。
func newTestWorkspace(t *testing.T, p *fakeProvider) *workspace.Workspace {
	t.Helper()
	ws := workspace.New("client-1", p, workspace.Options{})
	t.Cleanup(ws.Close)
	return ws
}

// newAnonymousWorkspace は未ログインが確定したワークスペースを生成する。
func newAnonymousWorkspace(t *testing.T, p *fakeProvider) *workspace.Workspace {
	t.Helper()
	ws := newTestWorkspace(t, p)
	p.emit(nil)
	return ws
}

// newSignedInWorkspace はサインイン済みのワークスペースを生成する。
func newSignedInWorkspace(t *testing.T, p *fakeProvider, userID string) *workspace.Workspace {
	t.Helper()
	ws := newTestWorkspace(t, p)
	p.emit(testSession(userID))
	return ws
}

// newRequest はワークスペースを注入したリクエストを生成する。
func newRequest(ws *workspace.Workspace, method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req.WithContext(middleware.ContextWithWorkspace(req.Context(), ws))
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
