package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"netdash/internal/banner"
	"netdash/internal/control"
	"netdash/internal/log"
	"netdash/internal/runner"
	"netdash/internal/storage"
)

var (
	cfgFile string

	// set by -ldflags "-X netdash/cmd.version=..."
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "netdash",
	Short: "netdash - wave-paced HTTP probing",
	Long: `
netdash sends bounded waves of HTTP probes at a target you are authorized to test.

Modes:
1. stress      fixed requests, bounded by attempts and duration
2. brute       credential pairs against a login endpoint, stops on the first hit
3. resilience  fixed requests, counts responses from protection layers

Runs can be started from the command line or through the HTTP API (netdash serve).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(log.New(viper.GetBool("verbose"), viper.GetString("log_format")))
	},
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		_ = cmd.Usage()
	})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("netdash failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.netdash.yaml)")
	pf.Bool("verbose", false, "debug logging")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("data-dir", "", "history directory (default is $HOME/.netdash)")
	pf.String("proxy", "", "socks5://host:port proxy for probes")
	pf.Bool("preflight", true, "check that the target accepts connections before starting")

	for key, flag := range map[string]string{
		"verbose":    "verbose",
		"log_format": "log-format",
		"data_dir":   "data-dir",
		"proxy":      "proxy",
		"preflight":  "preflight",
	} {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}

	// Defaults make the limits visible to AutomaticEnv.
	d := runner.DefaultLimits()
	viper.SetDefault("limits.max_concurrent", d.MaxConcurrent)
	viper.SetDefault("limits.max_total_attempts", d.MaxTotalAttempts)
	viper.SetDefault("limits.min_duration", d.MinDuration)
	viper.SetDefault("limits.max_duration", d.MaxDuration)
	viper.SetDefault("limits.max_rate_per_second", d.MaxRatePerSecond)
	viper.SetDefault("limits.max_response_bytes", d.MaxResponseBytes)

	rootCmd.AddCommand(
		newRunCmd(runner.ModeStress, "stress", "Send fixed requests at a target"),
		newRunCmd(runner.ModeCredential, "brute", "Try username/password pairs against a login endpoint"),
		newRunCmd(runner.ModeResilience, "resilience", "Probe how a target's protection layer reacts to load"),
		serveCmd,
		historyCmd,
		dummyCmd,
		versionCmd,
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".netdash")
		}
	}

	viper.SetEnvPrefix("netdash")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
	}
}

func loadLimits() (runner.Limits, error) {
	var limits runner.Limits
	if err := viper.UnmarshalKey("limits", &limits); err != nil {
		return runner.Limits{}, fmt.Errorf("limits: %w", err)
	}
	return limits.Normalize(), nil
}

func dataDir() (string, error) {
	if dir := viper.GetString("data_dir"); dir != "" {
		return dir, nil
	}
	return storage.DefaultDir()
}

// newManager builds a Manager from the layered configuration. store may be nil.
func newManager(store *storage.Store) (*control.Manager, error) {
	limits, err := loadLimits()
	if err != nil {
		return nil, err
	}

	opts := control.Options{
		Limits:    limits,
		Client:    runner.ClientOptions{Proxy: viper.GetString("proxy")},
		Preflight: viper.GetBool("preflight"),
	}
	if store != nil {
		opts.Store = store
	}
	return control.New(opts)
}
