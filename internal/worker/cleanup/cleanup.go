// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れのログインセッションとパスワードリセットトークンを
// 一定間隔のバッチで削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Purger は期限切れレコードを削除するインターフェース。
// repository.SessionRepository と repository.PasswordResetRepository が満たす。
type Purger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Target は削除対象の名前とPurgerの組。
type Target struct {
	Name   string
	Purger Purger
}

// CleanupJob は期限切れレコードの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	targets []Target
	logger  *slog.Logger
	now     func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(logger *slog.Logger, targets ...Target) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		targets: targets,
		logger:  logger,
		now:     time.Now,
	}
}

// Run は全ターゲットの期限切れレコードを削除する。
// 1つのターゲットが失敗しても残りのターゲットは処理し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	now := j.now()
	var errs []error

	for _, target := range j.targets {
		start := time.Now()

		deletedCount, err := target.Purger.DeleteExpired(ctx, now)
		if err != nil {
			j.logger.Error("クリーンアップジョブの実行に失敗しました",
				slog.String("target", target.Name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%sのクリーンアップに失敗: %w", target.Name, err))
			continue
		}

		j.logger.Info("クリーンアップジョブが完了しました",
			slog.String("target", target.Name),
			slog.Int64("deleted_count", deletedCount),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}

	return errors.Join(errs...)
}

// Start は起動直後に1回Runを実行し、以降intervalごとに実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runAndLog(ctx)
		}
	}
}

func (j *CleanupJob) runAndLog(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
