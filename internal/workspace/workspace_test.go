package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/expensetracker/internal/identity"
	"github.com/hitoshi/expensetracker/internal/ledger"
	"github.com/hitoshi/expensetracker/internal/model"
)

// fakeProvider はテスト用のIdPクライアント。emitでセッション通知を同期的に発行する。
type fakeProvider struct {
	mu        sync.Mutex
	listeners []identity.SessionListener
	current   *model.Session

	revalidateFn func(ctx context.Context) error
	closed       int
}

func (f *fakeProvider) ObserveSession(listener identity.SessionListener) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, listener)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeProvider) emit(s *model.Session) {
	f.mu.Lock()
	f.current = s
	listeners := append([]identity.SessionListener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(s)
	}
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	return nil, nil
}

func (f *fakeProvider) CreateAccountWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	return nil, nil
}

func (f *fakeProvider) SignInWithThirdParty(ctx context.Context, grant identity.Grant) (*model.Session, error) {
	return nil, nil
}

func (f *fakeProvider) LinkThirdParty(ctx context.Context, current *model.Session, grant identity.Grant) (*model.Session, error) {
	return current, nil
}

func (f *fakeProvider) ListSignInMethods(ctx context.Context, email string) ([]string, error) {
	return nil, nil
}

func (f *fakeProvider) SendPasswordReset(ctx context.Context, email string) error {
	return nil
}

func (f *fakeProvider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return nil
}

func (f *fakeProvider) EndSession(ctx context.Context) error {
	f.emit(nil)
	return nil
}

func (f *fakeProvider) Current() *model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeProvider) LinkedMethods(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

func (f *fakeProvider) Revalidate(ctx context.Context) error {
	if f.revalidateFn != nil {
		return f.revalidateFn(ctx)
	}
	return nil
}

func (f *fakeProvider) Close() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func sessionFor(userID string) *model.Session {
	return &model.Session{ID: "tok-" + userID, UserID: userID, Email: userID + "@example.com"}
}

func appendN(t *testing.T, ws *Workspace, amounts ...string) {
	t.Helper()
	for _, a := range amounts {
		if _, err := ws.Append(ledger.Input{Amount: a}); err != nil {
			t.Fatalf("Append(%s) error: %v", a, err)
		}
	}
}

func TestWorkspace_GateStartsWaiting(t *testing.T) {
	ws := New("client-1", &fakeProvider{}, Options{})
	defer ws.Close()

	if got := ws.Gate(); got != GateWait {
		t.Errorf("Gate() = %v, want %v", got, GateWait)
	}
	if ws.Status().Kind != model.StatusUnknown {
		t.Errorf("Status().Kind = %v, want unknown", ws.Status().Kind)
	}
}

func TestWorkspace_GateFollowsStatus(t *testing.T) {
	p := &fakeProvider{}
	ws := New("client-1", p, Options{})
	defer ws.Close()

	p.emit(nil)
	if got := ws.Gate(); got != GateRedirect {
		t.Errorf("Gate() after anonymous = %v, want %v", got, GateRedirect)
	}

	p.emit(sessionFor("user-a"))
	if got := ws.Gate(); got != GateAllow {
		t.Errorf("Gate() after sign-in = %v, want %v", got, GateAllow)
	}
}

func TestWorkspace_WaitResolved(t *testing.T) {
	p := &fakeProvider{}
	ws := New("client-1", p, Options{})
	defer ws.Close()

	done := make(chan Gate, 1)
	go func() {
		done <- ws.WaitResolved(context.Background())
	}()

	p.emit(sessionFor("user-a"))

	select {
	case got := <-done:
		if got != GateAllow {
			t.Errorf("WaitResolved() = %v, want %v", got, GateAllow)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitResolved did not return after the status resolved")
	}
}

func TestWorkspace_WaitResolvedTimeout(t *testing.T) {
	ws := New("client-1", &fakeProvider{}, Options{})
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if got := ws.WaitResolved(ctx); got != GateWait {
		t.Errorf("WaitResolved() = %v, want %v", got, GateWait)
	}
}

func TestWorkspace_AppendRequiresSession(t *testing.T) {
	p := &fakeProvider{}
	ws := New("client-1", p, Options{})
	defer ws.Close()

	p.emit(nil)

	if _, err := ws.Append(ledger.Input{Amount: "5"}); err == nil {
		t.Fatal("expected error without a session")
	}
}

func TestWorkspace_EndSessionClearsLedger(t *testing.T) {
	p := &fakeProvider{}
	ws := New("client-1", p, Options{})
	defer ws.Close()

	p.emit(sessionFor("user-a"))
	appendN(t, ws, "10", "20")

	if err := p.EndSession(context.Background()); err != nil {
		t.Fatalf("EndSession error: %v", err)
	}

	if n := ws.Ledger().Len(); n != 0 {
		t.Errorf("Ledger().Len() = %d, want 0", n)
	}
	if got := ws.Gate(); got != GateRedirect {
		t.Errorf("Gate() = %v, want %v", got, GateRedirect)
	}
}

func TestWorkspace_UserSwitchClearsLedger(t *testing.T) {
	p := &fakeProvider{}
	ws := New("client-1", p, Options{})
	defer ws.Close()

	p.emit(sessionFor("user-a"))
	appendN(t, ws, "10")

	p.emit(sessionFor("user-b"))

	if n := ws.Ledger().Len(); n != 0 {
		t.Errorf("Ledger().Len() = %d, want 0", n)
	}
}

// transitionHook はセッション状態の公開直後、購読者への配送前に呼ばれるRecorder。
type transitionHook struct {
	onTransition func(status string)
}

func (h *transitionHook) RecordSessionTransition(status string) {
	if h.onTransition != nil {
		h.onTransition(status)
	}
}

func (h *transitionHook) RecordAuthOperation(operation, outcome string) {}

func (h *transitionHook) RecordLedgerAppend(result string) {}

func TestWorkspace_UserSwitchHidesPreviousUserBeforeClear(t *testing.T) {
	p := &fakeProvider{}
	hook := &transitionHook{}
	ws := New("client-1", p, Options{Recorder: hook})
	defer ws.Close()

	p.emit(sessionFor("user-a"))
	appendN(t, ws, "10", "20")

	var (
		checked     bool
		leaked      int
		leakedTotal string
		appendErr   error
	)
	hook.onTransition = func(status string) {
		if ws.Status().UserID() != "user-b" {
			return
		}
		checked = true
		leaked = len(ws.Entries())
		leakedTotal = ws.Total().String()
		// 台帳のクリアより前に新しいユーザーで登録する
		_, appendErr = ws.Append(ledger.Input{Amount: "7"})
	}

	p.emit(sessionFor("user-b"))

	if !checked {
		t.Fatal("transition hook did not observe user-b")
	}
	if leaked != 0 {
		t.Errorf("Entries() during switch returned %d entries of the previous user, want 0", leaked)
	}
	if leakedTotal != "0" {
		t.Errorf("Total() during switch = %s, want 0", leakedTotal)
	}
	if appendErr != nil {
		t.Fatalf("Append during switch error: %v", appendErr)
	}

	entries := ws.Entries()
	if len(entries) != 1 || entries[0].OwnerID != "user-b" {
		t.Fatalf("Entries() after switch = %+v, want the single entry appended by user-b", entries)
	}
	if n := ws.Ledger().Len(); n != 1 {
		t.Errorf("Ledger().Len() = %d, want 1", n)
	}
	if got := ws.Total().String(); got != "7" {
		t.Errorf("Total() = %s, want 7", got)
	}
}

func TestWorkspace_EntriesEmptyWhenNotAuthenticated(t *testing.T) {
	p := &fakeProvider{}
	ws := New("client-1", p, Options{})
	defer ws.Close()

	if got := ws.Entries(); len(got) != 0 {
		t.Errorf("Entries() while unknown = %d entries, want 0", len(got))
	}

	p.emit(sessionFor("user-a"))
	appendN(t, ws, "1.25", "2")
	if got := ws.Total().String(); got != "3.25" {
		t.Errorf("Total() = %s, want 3.25", got)
	}

	p.emit(nil)
	if got := ws.Entries(); len(got) != 0 {
		t.Errorf("Entries() after sign-out = %d entries, want 0", len(got))
	}
	if !ws.Total().IsZero() {
		t.Errorf("Total() after sign-out = %s, want 0", ws.Total())
	}
}

func TestWorkspace_SameUserKeepsLedger(t *testing.T) {
	p := &fakeProvider{}
	ws := New("client-1", p, Options{})
	defer ws.Close()

	p.emit(sessionFor("user-a"))
	appendN(t, ws, "10", "20")

	p.emit(sessionFor("user-a"))

	if n := ws.Ledger().Len(); n != 2 {
		t.Errorf("Ledger().Len() = %d, want 2", n)
	}
}

func TestWorkspace_CloseIsIdempotent(t *testing.T) {
	p := &fakeProvider{}
	ws := New("client-1", p, Options{})

	ws.Close()
	ws.Close()

	if p.closed != 1 {
		t.Errorf("provider closed %d times, want 1", p.closed)
	}
}

func TestGate_String(t *testing.T) {
	tests := map[Gate]string{
		GateWait:     "wait",
		GateRedirect: "redirect",
		GateAllow:    "allow",
	}
	for g, want := range tests {
		if got := g.String(); got != want {
			t.Errorf("Gate(%d).String() = %q, want %q", g, got, want)
		}
	}
}
