package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitwire/packages/import/curl"
)

var (
	importOutputFlag   string
	importNoExpectFlag bool
)

var importCmd = &cobra.Command{
	Use:   "import <format> <source>",
	Short: "Convert requests from other tools into a descriptor file",
	Long: `Convert requests from other tools into a hitwire descriptor file.

Supported formats:
  curl - curl command lines, one per line

Examples:
  hitwire import curl commands.sh
  hitwire import curl commands.sh -o api.yaml
  pbpaste | hitwire import curl -`,
}

var importCurlCmd = &cobra.Command{
	Use:   "curl <file|->",
	Short: "Import curl command lines",
	Long: `Convert curl command lines into a descriptor file. Lines ending with a
backslash continue on the next one. Method, headers, body, form fields, basic
and NTLM credentials, client certificates, --max-time and --location are
carried over. --insecure and --proxy have no per request field and are
reported as warnings.

Examples:
  hitwire import curl commands.sh
  hitwire import curl commands.sh -o api.yaml --no-expect`,
	Args: cobra.ExactArgs(1),
	RunE: importCurlCommand,
}

func init() {
	importCurlCmd.Flags().StringVarP(&importOutputFlag, "output", "o", "", "Output file path (default: stdout)")
	importCurlCmd.Flags().BoolVar(&importNoExpectFlag, "no-expect", false, "Do not generate status expectations")

	importCmd.AddCommand(importCurlCmd)
}

func importCurlCommand(cmd *cobra.Command, args []string) error {
	log := logger(cmd)

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return exitWith(ExitUsageError, fmt.Errorf("failed to open file: %w", err))
		}
		defer f.Close()
		in = f
	}

	converter := curl.NewConverter(curl.WithAssertions(!importNoExpectFlag))
	result, err := converter.Convert(in)
	if err != nil {
		return exitWith(ExitParseError, fmt.Errorf("failed to convert curl commands: %w", err))
	}
	for _, w := range result.Warnings {
		log.Warn().Msg(w)
	}

	content, err := result.YAML()
	if err != nil {
		return err
	}

	if importOutputFlag == "" {
		_, err := cmd.OutOrStdout().Write(content)
		return err
	}
	if dir := filepath.Dir(importOutputFlag); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(importOutputFlag, content, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d requests to %s\n", len(result.Requests), importOutputFlag)
	return nil
}
