package identity

import (
	"context"
	"log/slog"
)

// Mailer はパスワードリセットリンクの送信インターフェース。
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer はリセットリンクを構造化ログに出力するMailer。
// SMTP連携までの開発用途を想定している。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。loggerがnilの場合はslog.Default()を使用する。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// SendPasswordReset はリセットリンクをログに出力する。
func (m *LogMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	m.logger.InfoContext(ctx, "password reset link issued",
		slog.String("email", email),
		slog.String("link", link),
	)
	return nil
}

// compile-time interface check
var _ Mailer = (*LogMailer)(nil)
