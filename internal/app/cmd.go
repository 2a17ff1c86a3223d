package app

import (
	"io"

	"github.com/spf13/cobra"
)

// サブコマンド名。
const (
	// CommandServe はAPIサーバーモードで起動する。引数なしの場合の既定。
	CommandServe = "serve"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate = "migrate"
	// CommandSweep は期限切れセッションを1回だけ削除する。
	CommandSweep = "sweep"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck = "healthcheck"
)

// NewRootCommand はscholarlyのルートコマンドを生成する。
// ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "scholarly",
		Short:         "Google login, server-side sessions and chat history API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, w)
		},
	}

	serveCmd := &cobra.Command{
		Use:   CommandServe,
		Short: "Run the HTTP API server and the session sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, w)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   CommandMigrate,
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return runMigrate(cfg)
		},
	}

	sweepCmd := &cobra.Command{
		Use:   CommandSweep,
		Short: "Delete expired sessions once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return runSweep(cmd.Context(), cfg)
		},
	}

	var healthURL string
	healthcheckCmd := &cobra.Command{
		Use:   CommandHealthcheck,
		Short: "Probe the /health endpoint of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 軽量サブコマンドのため、フル初期化をスキップする
			if healthURL == "" {
				healthURL = healthcheckURL()
			}
			return runHealthcheck(cmd.Context(), healthURL)
		},
	}
	healthcheckCmd.Flags().StringVar(&healthURL, "url", "", "health endpoint URL (default http://localhost:$SERVER_PORT/health)")

	root.AddCommand(serveCmd, migrateCmd, sweepCmd, healthcheckCmd)
	return root
}

func serve(cmd *cobra.Command, w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return err
	}
	return runServe(cmd.Context(), cfg)
}
