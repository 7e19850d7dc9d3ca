package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/expensetracker/internal/model"
)

// restoreTimeout は復元トークン検証のタイムアウト。
const restoreTimeout = 5 * time.Second

// Client はブラウザクライアント1つ分のIdP接続。Providerを実装する。
// 保持するセッションの変化はObserveSessionの購読者へ順序通りにプッシュされる。
type Client struct {
	backend      *Backend
	restoreToken string

	mu        sync.Mutex
	current   *model.Session
	resolved  bool
	resolving bool
	listeners map[int]*mailbox
	nextID    int
}

// NewClient はクライアントを生成する。
// restoreTokenには既存のセッショントークン（Cookie等）を渡す。空文字列の場合はセッションなしとして開始する。
func (b *Backend) NewClient(restoreToken string) *Client {
	return &Client{
		backend:      b,
		restoreToken: restoreToken,
		listeners:    make(map[int]*mailbox),
	}
}

// ObserveSession はセッション変化の購読を開始する。
// 最初のコールバックは復元トークンの検証後に非同期で届く。
func (c *Client) ObserveSession(listener SessionListener) func() {
	mb := newMailbox(listener)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = mb
	if c.resolved {
		mb.post(c.current)
	} else if !c.resolving {
		c.resolving = true
		go c.restore()
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
			mb.close()
		})
	}
}

// restore は復元トークンを検証し、最初のセッション状態を確定させる。
// 検証中に別の操作で状態が確定した場合は何もしない。
func (c *Client) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()

	session, err := c.backend.findSession(ctx, c.restoreToken)
	if err != nil {
		c.backend.logger.Warn("failed to restore session", slog.String("error", err.Error()))
		session = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		return
	}
	c.setLocked(session)
}

// set は現在のセッションを更新し、全購読者に通知する。
func (c *Client) set(session *model.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(session)
}

func (c *Client) setLocked(session *model.Session) {
	c.current = session
	c.resolved = true
	for _, mb := range c.listeners {
		mb.post(session)
	}
}

// Current は現在保持しているセッションを返す。セッションなしの場合はnil。
func (c *Client) Current() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	session, err := c.backend.signInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.set(session)
	return session, nil
}

// CreateAccountWithPassword はアカウントを作成し、そのままサインインする。
func (c *Client) CreateAccountWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	session, err := c.backend.createAccount(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.set(session)
	return session, nil
}

// SignInWithThirdParty はサードパーティ認証の結果でサインインする。
func (c *Client) SignInWithThirdParty(ctx context.Context, grant Grant) (*model.Session, error) {
	session, err := c.backend.signInWithThirdParty(ctx, grant)
	if err != nil {
		return nil, err
	}
	c.set(session)
	return session, nil
}

// LinkThirdParty は現在のユーザーにサードパーティのidentityを紐付ける。
func (c *Client) LinkThirdParty(ctx context.Context, current *model.Session, grant Grant) (*model.Session, error) {
	session, err := c.backend.linkThirdParty(ctx, current, grant)
	if err != nil {
		return nil, err
	}
	c.set(session)
	return session, nil
}

// ListSignInMethods はメールアドレスに登録されたサインイン方式を返す。
func (c *Client) ListSignInMethods(ctx context.Context, email string) ([]string, error) {
	return c.backend.listSignInMethods(ctx, email)
}

// LinkedMethods は現在のユーザーのサインイン方式を返す。セッションなしの場合は空。
func (c *Client) LinkedMethods(ctx context.Context) ([]string, error) {
	current := c.Current()
	if current == nil {
		return []string{}, nil
	}
	return c.backend.methodsForUser(ctx, current.UserID)
}

// SendPasswordReset はパスワードリセットリンクを送信する。
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.backend.sendPasswordReset(ctx, email)
}

// ConfirmPasswordReset はパスワードを更新する。
// 保持中のセッションが同じユーザーのものであれば、破棄されたためセッションなしを通知する。
func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	userID, err := c.backend.confirmPasswordReset(ctx, token, newPassword)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.UserID == userID {
		c.setLocked(nil)
	}
	return nil
}

// EndSession はセッションを破棄する。失敗した場合は状態を変更しない。
func (c *Client) EndSession(ctx context.Context) error {
	current := c.Current()
	if err := c.backend.endSession(ctx, current); err != nil {
		return err
	}
	c.set(nil)
	return nil
}

// Revalidate は保持中のトークンが有効かを確認する。
// 期限切れや削除によって無効になっていた場合はセッションなしを通知する。
func (c *Client) Revalidate(ctx context.Context) error {
	current := c.Current()
	if current == nil {
		return nil
	}

	session, err := c.backend.findSession(ctx, current.ID)
	if err != nil {
		return err
	}
	if session != nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.ID == current.ID {
		c.setLocked(nil)
	}
	return nil
}

// Close は全購読者への配送を停止する。
func (c *Client) Close() {
	c.mu.Lock()
	listeners := c.listeners
	c.listeners = make(map[int]*mailbox)
	c.mu.Unlock()

	for _, mb := range listeners {
		mb.close()
	}
}

// compile-time interface check
var _ Provider = (*Client)(nil)
