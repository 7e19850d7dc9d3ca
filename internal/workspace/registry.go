package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Factory はクライアントIDと復元トークンからワークスペースを生成する。
type Factory func(clientID, restoreToken string) *Workspace

// Gauge は稼働中のワークスペース数を記録するインターフェース。
type Gauge interface {
	SetActiveWorkspaces(n int)
}

// RegistryConfig はレジストリの設定を保持する。
type RegistryConfig struct {
	IdleTimeout       time.Duration // 最終アクセスからこの時間を超えたワークスペースを破棄する
	CleanupInterval   time.Duration // 期限切れワークスペースのクリーンアップ間隔
	MaxWorkspaces     int           // 同時に保持するワークスペースの上限。超えると最終アクセスが最も古いものを破棄する
	RevalidateTimeout time.Duration // クリーンアップ時のセッション再検証1件あたりのタイムアウト
}

// DefaultRegistryConfig はデフォルトのレジストリ設定を返す。
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleTimeout:       30 * time.Minute,
		CleanupInterval:   5 * time.Minute,
		MaxWorkspaces:     10000,
		RevalidateTimeout: 5 * time.Second,
	}
}

// entry はワークスペースと最終アクセス時刻を保持する。
type entry struct {
	workspace  *Workspace
	lastAccess time.Time
}

// Registry はクライアントIDごとのワークスペースを管理する。
// ワークスペースは初回アクセス時に生成し、一定時間アクセスがなければ破棄する。
type Registry struct {
	config  RegistryConfig
	factory Factory
	gauge   Gauge
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry は新しいRegistryを生成する。gaugeはnil可。
// バックグラウンドで期限切れワークスペースのクリーンアップを開始する。
func NewRegistry(config RegistryConfig, factory Factory, gauge Gauge) *Registry {
	r := newRegistry(config, factory, gauge)
	go r.cleanupLoop()
	return r
}

func newRegistry(config RegistryConfig, factory Factory, gauge Gauge) *Registry {
	defaults := DefaultRegistryConfig()
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.MaxWorkspaces <= 0 {
		config.MaxWorkspaces = defaults.MaxWorkspaces
	}
	if config.RevalidateTimeout <= 0 {
		config.RevalidateTimeout = defaults.RevalidateTimeout
	}
	return &Registry{
		config:  config,
		factory: factory,
		gauge:   gauge,
		now:     time.Now,
		entries: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
}

// Get はクライアントのワークスペースを取得し、存在しなければ生成する。
// restoreTokenは生成時にのみ使用する。
// 上限に達している場合は、最終アクセスが最も古いワークスペースを破棄してから生成する。
func (r *Registry) Get(clientID, restoreToken string) *Workspace {
	r.mu.RLock()
	e, exists := r.entries[clientID]
	r.mu.RUnlock()

	if exists {
		r.mu.Lock()
		e.lastAccess = r.now()
		r.mu.Unlock()
		return e.workspace
	}

	r.mu.Lock()
	// ダブルチェック
	if e, exists := r.entries[clientID]; exists {
		e.lastAccess = r.now()
		r.mu.Unlock()
		return e.workspace
	}

	var evicted *Workspace
	if len(r.entries) >= r.config.MaxWorkspaces {
		evicted = r.evictOldestLocked()
	}

	ws := r.factory(clientID, restoreToken)
	r.entries[clientID] = &entry{workspace: ws, lastAccess: r.now()}
	n := len(r.entries)
	r.mu.Unlock()

	if evicted != nil {
		evicted.Close()
		slog.Warn("workspace evicted at capacity",
			slog.String("client_id", evicted.ClientID()),
			slog.Int("max_workspaces", r.config.MaxWorkspaces),
		)
	}
	r.report(n)
	return ws
}

// evictOldestLocked は最終アクセスが最も古いエントリを取り除いて返す。r.muを保持して呼ぶ。
func (r *Registry) evictOldestLocked() *Workspace {
	var (
		oldestID string
		oldest   *entry
	)
	for clientID, e := range r.entries {
		if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
			oldestID, oldest = clientID, e
		}
	}
	if oldest == nil {
		return nil
	}
	delete(r.entries, oldestID)
	return oldest.workspace
}

// Lookup は既存のワークスペースを返す。存在しない場合はnil。
func (r *Registry) Lookup(clientID string) *Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[clientID]; ok {
		return e.workspace
	}
	return nil
}

// Len は管理中のワークスペース数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stop はクリーンアップを停止し、全ワークスペースを破棄する。複数回呼んでも安全。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)

		r.mu.Lock()
		entries := r.entries
		r.entries = make(map[string]*entry)
		r.mu.Unlock()

		for _, e := range entries {
			e.workspace.Close()
		}
		r.report(0)
	})
}

// cleanupLoop はバックグラウンドで期限切れワークスペースを定期的にクリーンアップする。
func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// cleanup はIdleTimeoutを超えたワークスペースを破棄し、
// 残ったワークスペースのセッショントークンを再検証する。
func (r *Registry) cleanup(ctx context.Context) {
	now := r.now()

	var expired, live []*Workspace
	r.mu.Lock()
	for clientID, e := range r.entries {
		if now.Sub(e.lastAccess) > r.config.IdleTimeout {
			expired = append(expired, e.workspace)
			delete(r.entries, clientID)
			continue
		}
		live = append(live, e.workspace)
	}
	n := len(r.entries)
	r.mu.Unlock()

	for _, ws := range expired {
		ws.Close()
	}
	if len(expired) > 0 {
		slog.Info("idle workspaces evicted", slog.Int("count", len(expired)))
	}

	for _, ws := range live {
		r.revalidate(ctx, ws)
	}

	r.report(n)
}

// revalidate はワークスペース1件のセッションをRevalidateTimeout以内で再検証する。
func (r *Registry) revalidate(ctx context.Context, ws *Workspace) {
	ctx, cancel := context.WithTimeout(ctx, r.config.RevalidateTimeout)
	defer cancel()

	if err := ws.Provider().Revalidate(ctx); err != nil {
		slog.Warn("failed to revalidate session",
			slog.String("client_id", ws.ClientID()),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Registry) report(n int) {
	if r.gauge != nil {
		r.gauge.SetActiveWorkspaces(n)
	}
}
