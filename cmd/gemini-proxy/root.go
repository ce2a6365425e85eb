package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fakeyw/gemini-proxy/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gemini-proxy",
	Short: "Key-pooling reverse proxy for OpenAI and Gemini APIs",
	Long: `gemini-proxy fronts OpenAI-style and Gemini-style LLM APIs with a pool of
upstream keys.

Requests carrying the shared secret are served from the pool. Keys rotate
round-robin; a key rejected with 429 is marked exhausted for that model and
the request is retried on the next key. Exhaustion and usage are persisted
and cleared by a daily reset.

Requests carrying any other credential are forwarded unchanged.

Without --config the proxy is configured from defaults and environment
variables (GEMINI_PROXY_*, or the legacy API_KEYS and PROXY_API_KEY).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and environment only when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
}
