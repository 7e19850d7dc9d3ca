// Package session はIdPのセッション通知を購読し、
// Unknown / Anonymous / Authenticated の3状態として再配信するウォッチャーを提供する。
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/expensetracker/internal/identity"
	"github.com/hitoshi/expensetracker/internal/model"
)

// Unsubscribe は購読を停止する関数。複数回呼んでも安全。
type Unsubscribe func()

// Recorder はセッション状態の遷移を記録するインターフェース。
type Recorder interface {
	RecordSessionTransition(status string)
}

type subscription struct {
	onChange func(model.SessionStatus)
	active   atomic.Bool
}

// Watcher はIdPのセッション通知を購読し、状態を保持・再配信する。
//
// 状態はUnknownで始まり、IdPからの最初のコールバックでAnonymousまたはAuthenticatedに確定する。
// 一度確定した後にUnknownへ戻ることはない。購読者への配送はIdPの発行順に直列化される。
// 購読者はUnknownを受け取った時点でリダイレクトや状態のクリアを判断してはならない。
type Watcher struct {
	recorder Recorder
	logger   *slog.Logger

	// deliverMu は配送と購読登録を直列化する
	deliverMu sync.Mutex

	mu     sync.Mutex
	status model.SessionStatus
	subs   []*subscription
	closed bool

	stopObserving func()
	closeOnce     sync.Once
}

// NewWatcher はWatcherを生成し、IdPのセッション通知の購読を開始する。
// recorderとloggerはnil可。
func NewWatcher(provider identity.Provider, recorder Recorder, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		recorder: recorder,
		logger:   logger,
		status:   model.Unknown(),
	}
	w.stopObserving = provider.ObserveSession(w.handle)
	return w
}

// Status は現在の状態を返す。
func (w *Watcher) Status() model.SessionStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Subscribe は状態変化の購読を開始する。
// 現在の状態（確定前ならUnknown）を同期的に1回通知し、以降は変化のたびに通知する。
// onChangeの中からSubscribeを呼んではならない。
func (w *Watcher) Subscribe(onChange func(model.SessionStatus)) Unsubscribe {
	sub := &subscription{onChange: onChange}
	sub.active.Store(true)

	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	current := w.status
	if !w.closed {
		w.subs = append(w.subs, sub)
	}
	w.mu.Unlock()

	onChange(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			w.remove(sub)
		})
	}
}

// Close はIdPの購読を停止する。以降、購読者への通知は行わない。複数回呼んでも安全。
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		subs := w.subs
		w.subs = nil
		w.mu.Unlock()

		for _, sub := range subs {
			sub.active.Store(false)
		}
		if w.stopObserving != nil {
			w.stopObserving()
		}
	})
}

// handle はIdPからのコールバックを受け取り、購読者に配送する。
func (w *Watcher) handle(session *model.Session) {
	next := model.StatusFromSession(session)

	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	prev := w.status
	w.status = next
	subs := make([]*subscription, len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()

	w.logger.Debug("session status changed",
		slog.String("from", prev.Kind.String()),
		slog.String("to", next.Kind.String()),
		slog.String("user_id", next.UserID()),
	)
	if w.recorder != nil {
		w.recorder.RecordSessionTransition(next.Kind.String())
	}

	for _, sub := range subs {
		if sub.active.Load() {
			sub.onChange(next)
		}
	}
}

func (w *Watcher) remove(target *subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.subs {
		if sub == target {
			w.subs = append(w.subs[:i:i], w.subs[i+1:]...)
			return
		}
	}
}
