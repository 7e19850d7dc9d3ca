package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はexpensetrackerのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして起動する。
// wはログとコマンド出力の書き込み先。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "expensetracker",
		Short:         "Session-gated expense ledger API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(w, CommandServe)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		newModeCommand(w, CommandServe, "Start the API server"),
		newModeCommand(w, CommandWorker, "Run the periodic cleanup worker"),
		newModeCommand(w, CommandMigrate, "Apply all pending database migrations"),
		newHealthcheckCommand(),
	)
	return root
}

// newModeCommand は設定を読み込んで起動するサブコマンドを生成する。
func newModeCommand(w io.Writer, mode Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(w, mode)
		},
	}
}

// newHealthcheckCommand はhealthcheckサブコマンドを生成する。
// 軽量サブコマンドのため、設定の読み込みとログの初期化を行わない。
func newHealthcheckCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check the local /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(port)
		},
	}
	cmd.Flags().StringVar(&port, "port", defaultPort(), "API server port (defaults to SERVER_PORT)")
	return cmd
}

func defaultPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}
