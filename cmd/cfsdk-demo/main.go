// Command cfsdk-demo wires a Client from configuration and prints the
// result of evaluating a single flag key, for manual smoke-testing an SDK
// deployment against a real or local server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cfclient "github.com/shoaib-customfit/cf-go-client-sdk"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/options"
)

var (
	configFile string
	flagKey    string
	flagType   string
	waitMs     int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cfsdk-demo",
	Short: "Evaluate a feature flag using the cf-go-client-sdk",
	Long: `cfsdk-demo builds a Client from a YAML config file plus CF_SDK_*
environment variables, lets the Config Manager complete one poll cycle,
then evaluates and prints a single flag.

Examples:
  cfsdk-demo --config cfsdk.yaml --flag hero_banner --type bool
  CF_SDK_CLIENT_KEY=abc123 cfsdk-demo --flag welcome_message --type string`,
	RunE: runDemo,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file (optional; env vars and defaults apply otherwise)")
	rootCmd.Flags().StringVarP(&flagKey, "flag", "f", "", "flag key to evaluate")
	rootCmd.Flags().StringVarP(&flagType, "type", "t", "string", "value type: string, bool, number, json")
	rootCmd.Flags().IntVarP(&waitMs, "wait", "w", 2000, "milliseconds to wait for the first poll cycle before evaluating")
}

func runDemo(cmd *cobra.Command, args []string) error {
	if flagKey == "" {
		return fmt.Errorf("--flag is required")
	}

	opts, err := options.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load options: %w", err)
	}

	client, err := cfclient.New(*opts)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-time.After(time.Duration(waitMs) * time.Millisecond):
	case <-ctx.Done():
	}

	switch flagType {
	case "bool":
		fmt.Printf("%s = %v\n", flagKey, client.GetBool(flagKey, false))
	case "number":
		fmt.Printf("%s = %v\n", flagKey, client.GetNumber(flagKey, 0))
	case "json":
		fmt.Printf("%s = %v\n", flagKey, client.GetJSON(flagKey, nil))
	default:
		fmt.Printf("%s = %q\n", flagKey, client.GetString(flagKey, ""))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Shutdown(shutdownCtx)
}
