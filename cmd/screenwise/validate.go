package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/screenwise/screenwise/internal/config"
)

var validateDump bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the ScreenWise configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump the effective configuration")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 72))
		_, _ = fmt.Fprintln(os.Stdout, "EFFECTIVE CONFIGURATION")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 72))
		dumpConfig(cfg)
	}

	return nil
}

// findUnknownKeys compares the keys present in the config file against
// the keys the Config struct can absorb.
func findUnknownKeys(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	collectKnownKeys(reflect.TypeOf(config.Config{}), "", known)

	var unknown []string
	for _, key := range v.AllKeys() {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}

// collectKnownKeys walks the Config struct's mapstructure tags into
// dotted key paths.
func collectKnownKeys(t reflect.Type, prefix string, known map[string]bool) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct {
			collectKnownKeys(field.Type, key, known)
			continue
		}
		known[key] = true
	}
}

func dumpConfig(cfg *config.Config) {
	bold := color.New(color.Bold)

	bold.Println("\n[server]")
	fmt.Printf("  api_port      = %d\n", cfg.Server.APIPort)
	fmt.Printf("  metrics_port  = %d\n", cfg.Server.MetricsPort)
	fmt.Printf("  bind_address  = %s\n", cfg.Server.BindAddress)

	bold.Println("\n[storage]")
	fmt.Printf("  type = %s\n", cfg.Storage.Type)
	if cfg.Storage.Type == "bolt" {
		fmt.Printf("  path = %s\n", cfg.Storage.Path)
	} else {
		fmt.Printf("  redis = %s:%d db=%d pool=%d\n",
			cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, cfg.Storage.Redis.DB, cfg.Storage.Redis.PoolSize)
	}

	bold.Println("\n[logging]")
	fmt.Printf("  level  = %s\n", cfg.Logging.Level)
	fmt.Printf("  format = %s\n", cfg.Logging.Format)

	bold.Println("\n[arbiter]")
	fmt.Printf("  session_ttl           = %s\n", cfg.Arbiter.SessionTTL)
	fmt.Printf("  sweep_interval        = %s\n", cfg.Arbiter.SweepInterval)
	fmt.Printf("  override_window_days  = %d\n", cfg.Arbiter.OverrideWindowDays)
	fmt.Printf("  trend_window_days     = %d\n", cfg.Arbiter.TrendWindowDays)
	fmt.Printf("  default_daily_minutes = %d\n", cfg.Arbiter.DefaultDailyMinutes)

	bold.Println("\n[classifier]")
	fmt.Printf("  mode    = %s\n", cfg.Classifier.Mode)
	if cfg.Classifier.Mode == "remote" {
		fmt.Printf("  url     = %s\n", cfg.Classifier.URL)
	}
	fmt.Printf("  timeout = %s\n", cfg.Classifier.Timeout)

	bold.Println("\n[usage_tracking]")
	fmt.Printf("  max_delta_minutes = %d\n", cfg.Usage.MaxDeltaMinutes)
}
