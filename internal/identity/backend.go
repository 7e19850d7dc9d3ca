package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/expensetracker/internal/model"
	"github.com/hitoshi/expensetracker/internal/repository"
)

// minPasswordLength はアカウント作成時のパスワード最小長。
const minPasswordLength = 6

// BackendDeps はBackendが利用するリポジトリと外部サービス。
type BackendDeps struct {
	Users      repository.UserRepository
	Identities repository.IdentityRepository
	Sessions   repository.SessionRepository
	Resets     repository.PasswordResetRepository
	OAuth      OAuthProvider
	Mailer     Mailer
	Logger     *slog.Logger
}

// BackendConfig はBackendの設定。
type BackendConfig struct {
	SessionMaxAge    time.Duration
	PasswordResetTTL time.Duration
	ResetURL         string // リセットリンクのベースURL
}

// Backend は全クライアントで共有するIdPの実体。
// クライアント（ブラウザ）ごとの状態はNewClientで生成するClientが保持する。
type Backend struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	sessions   repository.SessionRepository
	resets     repository.PasswordResetRepository
	oauth      OAuthProvider
	mailer     Mailer
	logger     *slog.Logger
	config     BackendConfig
	now        func() time.Time
}

// NewBackend はBackendを生成する。
func NewBackend(deps BackendDeps, config BackendConfig) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Mailer == nil {
		deps.Mailer = NewLogMailer(deps.Logger)
	}
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = 24 * time.Hour
	}
	if config.PasswordResetTTL <= 0 {
		config.PasswordResetTTL = time.Hour
	}
	return &Backend{
		users:      deps.Users,
		identities: deps.Identities,
		sessions:   deps.Sessions,
		resets:     deps.Resets,
		oauth:      deps.OAuth,
		mailer:     deps.Mailer,
		logger:     deps.Logger,
		config:     config,
		now:        time.Now,
	}
}

// LoginURL はサードパーティ認証の開始URLを返す。
func (b *Backend) LoginURL(state string) string {
	return b.oauth.GetLoginURL(state)
}

// signInWithPassword はパスワード方式のidentityを検証しセッションを発行する。
// ユーザーの存在有無を区別しないよう、未登録と不一致は同じコードを返す。
func (b *Backend) signInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	ident, err := b.identities.FindByProviderAndProviderUserID(ctx, model.SignInMethodPassword, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find password identity: %w", err)
	}
	if ident == nil || !VerifyPassword(ident.SecretHash, password) {
		return nil, newError(CodeInvalidLoginCredentials, "invalid login credentials")
	}

	user, err := b.users.FindByID(ctx, ident.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, newError(CodeUserNotFound, "user not found")
	}

	return b.issueSession(ctx, user)
}

// createAccount はパスワード方式のユーザーを作成しセッションを発行する。
func (b *Backend) createAccount(ctx context.Context, email, password string) (*model.Session, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, newError(CodeInvalidEmail, "the email address is badly formatted")
	}
	if len(password) < minPasswordLength {
		return nil, newError(CodeWeakPassword, fmt.Sprintf("password should be at least %d characters", minPasswordLength))
	}

	existing, err := b.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, newError(CodeEmailAlreadyInUse, "the email address is already in use")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := b.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ident := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       model.SignInMethodPassword,
		ProviderUserID: email,
		SecretHash:     hash,
		CreatedAt:      now,
	}
	if err := b.users.CreateWithIdentity(ctx, user, ident); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	b.logger.InfoContext(ctx, "new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", model.SignInMethodPassword),
	)

	return b.issueSession(ctx, user)
}

// signInWithThirdParty はOAuthの認可コードでユーザーを特定しセッションを発行する。
// 未登録の場合はusersとidentitiesを同時に作成する。
func (b *Backend) signInWithThirdParty(ctx context.Context, grant Grant) (*model.Session, error) {
	info, err := b.exchange(ctx, grant)
	if err != nil {
		return nil, err
	}

	ident, err := b.identities.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var user *model.User
	if ident != nil {
		user, err = b.users.FindByID(ctx, ident.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, newError(CodeUserNotFound, "user not found")
		}
	} else {
		existing, err := b.users.FindByEmail(ctx, info.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing != nil {
			return nil, newError(CodeAccountExistsWithDifferentCredential,
				"an account already exists with the same email address; sign in with password and link this account")
		}

		now := b.now()
		user = &model.User{
			ID:        uuid.New().String(),
			Email:     info.Email,
			Name:      info.Name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		newIdent := &model.Identity{
			ID:             uuid.New().String(),
			UserID:         user.ID,
			Provider:       info.Provider,
			ProviderUserID: info.ProviderUserID,
			CreatedAt:      now,
		}
		if err := b.users.CreateWithIdentity(ctx, user, newIdent); err != nil {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}
		b.logger.InfoContext(ctx, "new user created",
			slog.String("user_id", user.ID),
			slog.String("provider", info.Provider),
		)
	}

	return b.issueSession(ctx, user)
}

// linkThirdParty は現在のユーザーにサードパーティのidentityを追加する。
func (b *Backend) linkThirdParty(ctx context.Context, current *model.Session, grant Grant) (*model.Session, error) {
	if current == nil {
		return nil, newError(CodeNoCurrentUser, "no user is currently signed in")
	}

	info, err := b.exchange(ctx, grant)
	if err != nil {
		return nil, err
	}

	ident, err := b.identities.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if ident != nil {
		if ident.UserID == current.UserID {
			return nil, newError(CodeProviderAlreadyLinked, "this account is already linked")
		}
		return nil, newError(CodeCredentialAlreadyInUse, "this credential is already associated with a different user account")
	}

	owned, err := b.identities.ListByUserID(ctx, current.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	for _, o := range owned {
		if o.Provider == info.Provider {
			return nil, newError(CodeProviderAlreadyLinked, "a different account of this provider is already linked")
		}
	}

	if err := b.identities.Create(ctx, &model.Identity{
		ID:             uuid.New().String(),
		UserID:         current.UserID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      b.now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to link identity: %w", err)
	}

	b.logger.InfoContext(ctx, "identity linked",
		slog.String("user_id", current.UserID),
		slog.String("provider", info.Provider),
	)

	return current, nil
}

// listSignInMethods はメールアドレスに登録されたサインイン方式を返す。
// 未登録の場合は空のスライスを返す。
func (b *Backend) listSignInMethods(ctx context.Context, email string) ([]string, error) {
	user, err := b.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return []string{}, nil
	}
	return b.methodsForUser(ctx, user.ID)
}

// methodsForUser はユーザーのサインイン方式を重複なしで昇順に返す。
func (b *Backend) methodsForUser(ctx context.Context, userID string) ([]string, error) {
	identities, err := b.identities.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	seen := make(map[string]bool, len(identities))
	methods := make([]string, 0, len(identities))
	for _, ident := range identities {
		if seen[ident.Provider] {
			continue
		}
		seen[ident.Provider] = true
		methods = append(methods, ident.Provider)
	}
	sort.Strings(methods)
	return methods, nil
}

// sendPasswordReset はワンタイムトークンを保存し、リセットリンクを送信する。
func (b *Backend) sendPasswordReset(ctx context.Context, email string) error {
	user, err := b.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil {
		return newError(CodeUserNotFound, "there is no user record corresponding to this identifier")
	}

	token, err := randomToken(32)
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}

	now := b.now()
	if err := b.resets.Create(ctx, &model.PasswordReset{
		TokenHash: hashToken(token),
		UserID:    user.ID,
		ExpiresAt: now.Add(b.config.PasswordResetTTL),
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("failed to save password reset: %w", err)
	}

	link := b.config.ResetURL + "?" + url.Values{"token": {token}}.Encode()
	if err := b.mailer.SendPasswordReset(ctx, email, link); err != nil {
		return fmt.Errorf("failed to send password reset: %w", err)
	}

	return nil
}

// confirmPasswordReset はリセットトークンを消費し、パスワードを更新してユーザーの全セッションを破棄する。
// 更新したユーザーのIDを返す。トークンは期限切れでも消費される。
func (b *Backend) confirmPasswordReset(ctx context.Context, token, newPassword string) (string, error) {
	if token == "" {
		return "", newError(CodeInvalidActionCode, "the action code is invalid")
	}
	if len(newPassword) < minPasswordLength {
		return "", newError(CodeWeakPassword, fmt.Sprintf("password should be at least %d characters", minPasswordLength))
	}

	reset, err := b.resets.Consume(ctx, hashToken(token))
	if err != nil {
		return "", fmt.Errorf("failed to consume password reset: %w", err)
	}
	if reset == nil {
		return "", newError(CodeInvalidActionCode, "the action code is invalid or has already been used")
	}
	if !b.now().Before(reset.ExpiresAt) {
		return "", newError(CodeExpiredActionCode, "the action code has expired")
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return "", err
	}
	if err := b.identities.UpdateSecretHash(ctx, reset.UserID, model.SignInMethodPassword, hash); err != nil {
		return "", fmt.Errorf("failed to update password: %w", err)
	}

	revoked, err := b.sessions.DeleteByUserID(ctx, reset.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to delete user sessions: %w", err)
	}

	b.logger.InfoContext(ctx, "password reset completed",
		slog.String("user_id", reset.UserID),
		slog.Int64("revoked_sessions", revoked),
	)
	return reset.UserID, nil
}

// findSession はトークンに対応する有効なセッションを返す。無効な場合はnil。
func (b *Backend) findSession(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}
	session, err := b.sessions.FindByID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// endSession はセッションを破棄する。
func (b *Backend) endSession(ctx context.Context, session *model.Session) error {
	if session == nil {
		return nil
	}
	if err := b.sessions.DeleteByID(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	b.logger.InfoContext(ctx, "user signed out", slog.String("user_id", session.UserID))
	return nil
}

// exchange はGrantを検証し、認可コードをユーザー情報に交換する。
func (b *Backend) exchange(ctx context.Context, grant Grant) (*OAuthUserInfo, error) {
	if grant.Cancelled {
		return nil, newError(CodePopupClosedByUser, "the popup has been closed by the user before finalizing the operation")
	}
	if grant.Code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}
	info, err := b.oauth.ExchangeCode(ctx, grant.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}
	return info, nil
}

// issueSession はセッションを作成し永続化する。
func (b *Backend) issueSession(ctx context.Context, user *model.User) (*model.Session, error) {
	sessionID, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := b.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: now.Add(b.config.SessionMaxAge),
		CreatedAt: now,
	}
	if err := b.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// randomToken は暗号的に安全なランダム値を16進文字列で返す。
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken はリセットトークンの保存用ハッシュを返す。
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
