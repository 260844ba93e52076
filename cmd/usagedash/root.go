package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/valentindosimont/usagedash/internal/app"
	"github.com/valentindosimont/usagedash/internal/config"
	"github.com/valentindosimont/usagedash/internal/logger"
)

var (
	settings = viper.New()
	cfg      *config.Config
	cfgPath  string
)

var rootCmd = &cobra.Command{
	Use:   "usagedash",
	Short: "Usage quota dashboard for AI coding assistants",
	Long: "Reads the local activity files of codex, claude and gemini, combines them with manual " +
		"values from the config file and shows how much of each session and weekly quota is used.",
	SilenceUsage: true,
	RunE:         runDashboard,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfgPath = settings.GetString("config")
		if cfgPath == "" {
			cfgPath = config.DefaultPath()
		}

		c, err := config.LoadOrInit(cfgPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		level := firstNonEmpty(settings.GetString("log_level"), cfg.Log.Level)
		format := firstNonEmpty(settings.GetString("log_format"), cfg.Log.Format)
		l, err := logger.New(format, level)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.ReplaceGlobals(l)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ~/.config/usagedash/config.yaml; .toml also accepted)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: console or json")
	flags.Bool("lenient", false, "skip providers whose files cannot be read instead of failing")

	_ = settings.BindPFlag("config", flags.Lookup("config"))
	_ = settings.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = settings.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = settings.BindPFlag("lenient", flags.Lookup("lenient"))

	settings.SetEnvPrefix("USAGEDASH")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	settings.AutomaticEnv()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp builds the application from the loaded config
func newApp(l *zap.Logger) (*app.App, error) {
	if l == nil {
		l = zap.L()
	}
	return app.New(cfg, l, app.WithLenient(settings.GetBool("lenient")))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
