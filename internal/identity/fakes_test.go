package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/expensetracker/internal/model"
)

// memStore はテスト用のインメモリ永続化層。各リポジトリインターフェースを実装する。
type memStore struct {
	mu         sync.Mutex
	users      map[string]*model.User
	identities []*model.Identity
	sessions   map[string]*model.Session
	resets     map[string]*model.PasswordReset

	findSessionErr error
	deleteErr      error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*model.User),
		sessions: make(map[string]*model.Session),
		resets:   make(map[string]*model.PasswordReset),
	}
}

type memUsers struct{ *memStore }
type memIdentities struct{ *memStore }
type memSessions struct{ *memStore }
type memResets struct{ *memStore }

func (m memUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m memUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m memUsers) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	m.identities = append(m.identities, identity)
	return nil
}

func (m memIdentities) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.Provider == provider && i.ProviderUserID == providerUserID {
			return i, nil
		}
	}
	return nil, nil
}

func (m memIdentities) ListByUserID(ctx context.Context, userID string) ([]*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Identity
	for _, i := range m.identities {
		if i.UserID == userID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m memIdentities) Create(ctx context.Context, identity *model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = append(m.identities, identity)
	return nil
}

func (m memIdentities) UpdateSecretHash(ctx context.Context, userID, provider, secretHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.UserID == userID && i.Provider == provider {
			i.SecretHash = secretHash
			return nil
		}
	}
	return errors.New("identity not found")
}

func (m memSessions) Create(ctx context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m memSessions) FindByID(ctx context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findSessionErr != nil {
		return nil, m.findSessionErr
	}
	return m.sessions[id], nil
}

func (m memSessions) DeleteByID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.sessions, id)
	return nil
}

func (m memSessions) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, session := range m.sessions {
		if session.UserID == userID {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m memSessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m memResets) Create(ctx context.Context, reset *model.PasswordReset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[reset.UserID] = reset
	return nil
}

func (m memResets) Consume(ctx context.Context, tokenHash string) (*model.PasswordReset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, reset := range m.resets {
		if reset.TokenHash == tokenHash {
			delete(m.resets, userID)
			return reset, nil
		}
	}
	return nil, nil
}

func (m memResets) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// mockOAuth はテスト用のOAuthProvider。
type mockOAuth struct {
	exchangeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuth) GetLoginURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (m *mockOAuth) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return &OAuthUserInfo{
		ProviderUserID: "google-" + code,
		Email:          code + "@gmail.com",
		Name:           "Google User",
		Provider:       model.SignInMethodGoogle,
	}, nil
}

// mockMailer は送信されたリセットリンクを記録する。
type mockMailer struct {
	mu    sync.Mutex
	sent  []string
	links []string
}

func (m *mockMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, email)
	m.links = append(m.links, link)
	return nil
}

func newTestBackend(store *memStore, oauth OAuthProvider, mailer Mailer) *Backend {
	return NewBackend(BackendDeps{
		Users:      memUsers{store},
		Identities: memIdentities{store},
		Sessions:   memSessions{store},
		Resets:     memResets{store},
		OAuth:      oauth,
		Mailer:     mailer,
	}, BackendConfig{ResetURL: "http://localhost:8080/reset"})
}
