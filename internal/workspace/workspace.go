// Package workspace はブラウザクライアント1つ分の構成要素
// （IdPクライアント、セッションウォッチャー、認証コントローラー、支出台帳）を組み立てる。
package workspace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/expensetracker/internal/auth"
	"github.com/hitoshi/expensetracker/internal/identity"
	"github.com/hitoshi/expensetracker/internal/ledger"
	"github.com/hitoshi/expensetracker/internal/model"
	"github.com/hitoshi/expensetracker/internal/session"
	"github.com/shopspring/decimal"
)

// Gate は保護された画面へのアクセス判定結果。
type Gate int

const (
	// GateWait はセッション状態が未確定のため判定を保留する。
	GateWait Gate = iota
	// GateRedirect はセッションがないためログイン画面へ誘導する。
	GateRedirect
	// GateAllow はアクセスを許可する。
	GateAllow
)

// String はGateの文字列表現を返す。
func (g Gate) String() string {
	switch g {
	case GateRedirect:
		return "redirect"
	case GateAllow:
		return "allow"
	default:
		return "wait"
	}
}

// Provider はワークスペースが利用するIdPクライアント。identity.Clientが実装する。
type Provider interface {
	identity.Provider
	Current() *model.Session
	LinkedMethods(ctx context.Context) ([]string, error)
	Revalidate(ctx context.Context) error
	Close()
}

// Recorder はワークスペース内の各コンポーネントが利用するメトリクス記録先。
type Recorder interface {
	auth.Recorder
	session.Recorder
	ledger.Recorder
}

// Options はワークスペースの生成オプション。いずれもゼロ値可。
type Options struct {
	Recorder Recorder
	Logger   *slog.Logger
}

// Workspace はクライアント1つ分の状態を保持する。
//
// セッションがAnonymousになったとき、または別ユーザーのAuthenticatedに切り替わったときに台帳をクリアする。
// Unknownではクリアもリダイレクト判定も行わない。
// クリアは状態の公開より後に走るため、Entries/Totalは常に現在のユーザーが登録した分だけを返す。
type Workspace struct {
	clientID   string
	provider   Provider
	watcher    *session.Watcher
	controller *auth.Controller
	ledger     *ledger.Store
	logger     *slog.Logger

	mu       sync.Mutex
	lastUser string

	resolved     chan struct{}
	resolvedOnce sync.Once

	unsubscribe session.Unsubscribe
	closeOnce   sync.Once
}

// New はワークスペースを組み立て、セッション状態の購読を開始する。
func New(clientID string, provider Provider, opts Options) *Workspace {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("client_id", clientID))

	w := &Workspace{
		clientID: clientID,
		provider: provider,
		ledger:   ledger.NewStore(ledger.WithRecorder(opts.Recorder)),
		logger:   logger,
		resolved: make(chan struct{}),
	}

	w.watcher = session.NewWatcher(provider, opts.Recorder, logger)
	w.controller = auth.NewController(provider, w.watcher, opts.Recorder, logger)
	w.unsubscribe = w.watcher.Subscribe(w.onStatus)
	return w
}

// ClientID はクライアントIDを返す。
func (w *Workspace) ClientID() string { return w.clientID }

// Provider はIdPクライアントを返す。
func (w *Workspace) Provider() Provider { return w.provider }

// Controller は認証コントローラーを返す。
func (w *Workspace) Controller() *auth.Controller { return w.controller }

// Ledger は支出台帳を返す。
func (w *Workspace) Ledger() *ledger.Store { return w.ledger }

// Status は現在のセッション状態を返す。
func (w *Workspace) Status() model.SessionStatus { return w.watcher.Status() }

// Gate は現在のセッション状態から保護画面へのアクセス可否を判定する。
func (w *Workspace) Gate() Gate {
	return gateFor(w.watcher.Status())
}

// WaitResolved はセッション状態が最初に確定するまで待ち、判定結果を返す。
// ctxが先に終了した場合は、その時点の判定結果（通常はGateWait）を返す。
func (w *Workspace) WaitResolved(ctx context.Context) Gate {
	select {
	case <-w.resolved:
	case <-ctx.Done():
	}
	return w.Gate()
}

// Entries は現在のユーザーが登録したエントリを新しい順で返す。認証済みでない場合は空。
func (w *Workspace) Entries() []model.ExpenseEntry {
	status := w.watcher.Status()
	if !status.IsAuthenticated() {
		return []model.ExpenseEntry{}
	}
	return w.ledger.EntriesOf(status.UserID())
}

// Total は現在のユーザーが登録したエントリの合計額を返す。認証済みでない場合は0。
func (w *Workspace) Total() decimal.Decimal {
	status := w.watcher.Status()
	if !status.IsAuthenticated() {
		return decimal.Zero
	}
	return w.ledger.TotalOf(status.UserID())
}

// Append は現在のセッションで支出を登録する。
func (w *Workspace) Append(in ledger.Input) (model.ExpenseEntry, error) {
	return w.ledger.Append(in, w.watcher.Status().Session)
}

// Close は購読を解除し、IdPクライアントを停止して台帳を破棄する。複数回呼んでも安全。
func (w *Workspace) Close() {
	w.closeOnce.Do(func() {
		w.unsubscribe()
		w.watcher.Close()
		w.provider.Close()
		w.ledger.Clear()
	})
}

// onStatus はセッション状態の変化に応じて台帳を管理する。
func (w *Workspace) onStatus(status model.SessionStatus) {
	if !status.IsResolved() {
		return
	}

	w.mu.Lock()
	prev := w.lastUser
	w.lastUser = status.UserID()
	w.mu.Unlock()

	switch {
	case !status.IsAuthenticated():
		w.logCleared("signed_out", prev, w.clearAll())
	case prev != "" && prev != status.UserID():
		// 切り替え後に新しいユーザーで登録されたエントリは残す
		w.logCleared("user_changed", prev, w.ledger.Retain(status.UserID()))
	}

	w.resolvedOnce.Do(func() { close(w.resolved) })
}

func (w *Workspace) clearAll() int {
	n := w.ledger.Len()
	w.ledger.Clear()
	return n
}

func (w *Workspace) logCleared(reason, prevUser string, n int) {
	if n == 0 {
		return
	}
	w.logger.Info("ledger cleared",
		slog.String("reason", reason),
		slog.String("user_id", prevUser),
		slog.Int("entries", n),
	)
}

func gateFor(status model.SessionStatus) Gate {
	switch status.Kind {
	case model.StatusAuthenticated:
		return GateAllow
	case model.StatusAnonymous:
		return GateRedirect
	default:
		return GateWait
	}
}

// compile-time interface check
var _ Provider = (*identity.Client)(nil)
