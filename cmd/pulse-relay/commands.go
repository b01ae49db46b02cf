package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pulseflow "github.com/ghalamif/PulseFlow"
)

// newRootCmd builds the CLI. Every flag can also be set through a PULSE_
// environment variable, e.g. PULSE_CONFIG or PULSE_HTTP_ADDR.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "pulse-relay",
		Short:         "PulseFlow telemetry relay",
		Long:          "pulse-relay ingests sensor events, smooths reordering and fans the stream out to live subscribers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newRunCmd(v), newValidateCmd(v), newStatsCmd(v))
	return rootCmd
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Start the relay using the provided config",
		PreRunE: bindFlags(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			r, err := pulseflow.NewRelay(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return r.Run(ctx)
		},
	}
	flags := cmd.Flags()
	flags.String("config", "", "Path to relay configuration file (defaults only when empty)")
	flags.String("http-addr", "", "Override http.addr")
	flags.String("metrics-addr", "", "Override metrics.addr")
	flags.Int64("window-ms", -1, "Override relay.window_ms")
	flags.String("log-level", "", "Override log.level")
	return cmd
}

func newValidateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "validate",
		Short:   "Load and validate a config file without starting the relay",
		PreRunE: bindFlags(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := v.GetString("config")
			if path == "" {
				return fmt.Errorf("--config is required")
			}
			if _, err := pulseflow.LoadConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good\n", path)
			return nil
		},
	}
	cmd.Flags().String("config", "", "Path to configuration file to validate")
	return cmd
}

func newStatsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stats",
		Short:   "Poll the relay metrics endpoint and print per-source delivery quality",
		PreRunE: bindFlags(v),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return pollStats(ctx, cmd.OutOrStdout(), v.GetString("url"), v.GetDuration("interval"), v.GetInt("count"))
		},
	}
	flags := cmd.Flags()
	flags.String("url", "http://localhost:8000/api/metrics", "Relay metrics endpoint")
	flags.Duration("interval", 2*time.Second, "Refresh interval")
	flags.Int("count", 0, "Stop after this many polls (0 polls until interrupted)")
	return cmd
}

// loadConfig reads the config file, if any, and applies flag/env overrides.
func loadConfig(v *viper.Viper) (*pulseflow.Config, error) {
	cfg := pulseflow.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		loaded, err := pulseflow.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if addr := v.GetString("http-addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if addr := v.GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if w := v.GetInt64("window-ms"); w >= 0 {
		cfg.Relay.WindowMs = w
	}
	if lvl := v.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, cfg.Validate()
}

func pollStats(ctx context.Context, out io.Writer, url string, interval time.Duration, count int) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	client := &http.Client{Timeout: 5 * time.Second}

	fmt.Fprintf(out, "Streaming metrics from %s (Ctrl+C to stop)\n", url)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		if err := printSnapshot(ctx, client, out, url); err != nil {
			fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
		}
		if count > 0 && polls >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printSnapshot(ctx context.Context, client *http.Client, out io.Writer, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var snaps map[string]pulseflow.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return fmt.Errorf("decode metrics: %w", err)
	}

	ids := make([]string, 0, len(snaps))
	for id := range snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := time.Now().Format(time.RFC3339)
	if len(ids) == 0 {
		fmt.Fprintf(out, "[%s] no sources yet\n", now)
	}
	for _, id := range ids {
		s := snaps[id]
		fmt.Fprintf(out, "[%s] source=%s count=%d mean=%.1fms p95=%.1fms max=%.1fms jitter=%.1f±%.1fms pdr=%.3f dup=%d late=%d\n",
			now, id, s.Count, s.MeanLatency, s.P95Latency, s.MaxLatency, s.JitterMean, s.JitterStd,
			s.DeliveryRatio, s.Duplicates, s.Late)
	}
	return nil
}

// bindFlags binds only the running command's flags so subcommands sharing a
// flag name do not shadow each other.
func bindFlags(v *viper.Viper) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return v.BindPFlags(cmd.Flags())
	}
}
