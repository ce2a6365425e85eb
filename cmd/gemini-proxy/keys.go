package main

import (
	"bufio"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fakeyw/gemini-proxy/pkg/cli"
	"github.com/fakeyw/gemini-proxy/pkg/config"
	"github.com/fakeyw/gemini-proxy/pkg/keypool"
	"github.com/fakeyw/gemini-proxy/pkg/keypool/storage"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/logging"
)

var keysFlags struct {
	output    string
	noConfirm bool
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect and reset the persisted key pool",
	Long: `Inspect and reset the key pool state held in the configured storage.

These commands work on the store directly and do not need a running server.
A running server keeps its own copy of the state, so a reset made here is
seen by the server only after it restarts; the scheduled reset is the normal
way to clear exhaustion on a live proxy.

Subcommands:
  stats - Show usage and exhaustion per key
  reset - Clear usage and exhaustion on every key

Examples:
  # Show usage as a table
  gemini-proxy keys stats --config config.yaml

  # Machine-readable output
  gemini-proxy keys stats --output json

  # Reset without prompting
  gemini-proxy keys reset --yes`,
}

var keysStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage and exhaustion per key",
	Long:  `Show per-model usage counts and exhausted models for every key. Keys are masked.`,
	RunE:  statsKeys,
}

var keysResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear usage and exhaustion on every key",
	Long:  `Clear per-model usage counts, exhausted models and reasons on every key and rewind rotation to the first key.`,
	RunE:  resetKeys,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysStatsCmd, keysResetCmd)

	keysStatsCmd.Flags().StringVarP(&keysFlags.output, "output", "o", "text", "output format: text, json, csv")
	keysResetCmd.Flags().BoolVarP(&keysFlags.noConfirm, "yes", "y", false, "skip confirmation prompt")
}

// openPool loads configuration and opens the key pool it points at. Logs
// go to stderr so stdout carries only the command result. The returned
// close function releases the store.
func openPool(cmd *cobra.Command) (*keypool.Pool, *config.Config, func() error, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	backend, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open key pool storage: %w", err)
	}

	logger, err := newLogger(cfg.Telemetry.Logging, cmd.ErrOrStderr())
	if err != nil {
		backend.Close()
		return nil, nil, nil, cli.NewConfigError("telemetry.logging", err.Error())
	}

	pool := keypool.New(backend, keypool.ParseKeys(cfg.KeyPool.APIKeys),
		keypool.WithStateKey(cfg.KeyPool.StateKey),
		keypool.WithLogger(logger.Logger),
	)
	return pool, cfg, backend.Close, nil
}

// statsTable renders key stats with masked keys.
type statsTable []keypool.KeyStats

func (t statsTable) Header() []string {
	return []string{"KEY", "USAGE", "EXHAUSTED"}
}

func (t statsTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, s := range t {
		usage := make([]string, 0, len(s.UsageCount))
		for _, model := range slices.Sorted(maps.Keys(s.UsageCount)) {
			usage = append(usage, fmt.Sprintf("%s=%d", model, s.UsageCount[model]))
		}
		rows = append(rows, []string{
			s.Key,
			strings.Join(usage, ";"),
			strings.Join(s.ExhaustedModels, ";"),
		})
	}
	return rows
}

func statsKeys(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(keysFlags.output)
	if err != nil {
		return err
	}

	pool, cfg, closeStore, err := openPool(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Storage.Backend == storage.BackendMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: memory storage keeps no state between processes")
	}

	stats, err := pool.Stats(context.Background())
	if err != nil {
		return cli.NewCommandError("keys stats", err)
	}
	for i := range stats {
		stats[i].Key = logging.MaskKey(stats[i].Key)
	}

	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), stats)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), statsTable(stats))
}

func resetKeys(cmd *cobra.Command, args []string) error {
	pool, _, closeStore, err := openPool(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	size, err := pool.Size(ctx)
	if err != nil {
		return cli.NewCommandError("keys reset", err)
	}

	if !keysFlags.noConfirm {
		fmt.Fprintf(cmd.OutOrStdout(), "Reset usage and exhaustion for %d keys? [y/N] ", size)
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
	}

	if err := pool.Reset(ctx); err != nil {
		return cli.NewCommandError("keys reset", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Reset %d keys\n", size)
	return nil
}
