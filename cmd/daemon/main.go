package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/genricoloni/playsync/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "playsyncd",
	Short: "Keep every window in sync with what the music page is playing",
	Long: `playsyncd observes the music player page over the DevTools protocol,
reconciles what it sees into one canonical playback state and replicates it,
together with shared window stores, to every connected window.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/playsync/config.toml)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	app := fx.New(
		fx.Supply(config.Path(cfgFile)),
		AppOptions,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop cleanly: %w", err)
	}
	return nil
}

// newLogger creates the production logger; its level follows the config file
func newLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = cfg.Level()
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}
