package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitwire/packages/observability"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	logLevelFlag string
	noColorFlag  bool
	configFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "hitwire",
	Short: "Send raw HTTP/1.1 requests and see exactly what came back.",
	Long: `hitwire speaks HTTP/1.1 directly over TCP and TLS. It sends the requests
a browser would refuse (forbidden headers, odd methods, arbitrary proxies,
client certificates, NTLM) and reports status, headers, body, timings and
redirects for each exchange.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code of the failure.
func Execute(v, bt string) {
	version = v
	buildTime = bt
	if err := rootCmd.Execute(); err != nil {
		code := ExitUsageError
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		}
		if exitErr == nil || exitErr.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(code)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", getEnvString("HITWIRE_LOG_LEVEL", "warn"), "Log level: trace, debug, info, warn, error, off (env: HITWIRE_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", getEnvBool("HITWIRE_NO_COLOR", false), "Disable colored output (env: HITWIRE_NO_COLOR)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", getEnvString("HITWIRE_CONFIG", ""), "Path to an options file (env: HITWIRE_CONFIG)")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)
}

// logger returns the console logger for the command, writing to its stderr.
func logger(cmd *cobra.Command) *zerolog.Logger {
	return observability.NewConsoleLogger(logLevelFlag, cmd.ErrOrStderr())
}

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
