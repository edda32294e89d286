// Package cmd implements the attestctl CLI commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"enclave-verifier/shared"
)

// Version is set at build time
var Version = "0.1.0"

var (
	okFmt   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failFmt = color.New(color.FgRed, color.Bold).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
)

type globals struct {
	outputFormat string
	envFile      string
	logger       *shared.Logger
}

// NewRootCmd builds the attestctl command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "attestctl",
		Short: "Verify remote enclave attestations",
		Long: `attestctl fetches and verifies attestation evidence from confidential
computing enclaves, inspects raw hardware reports, and checks launch digests
against measurement policies.

Configuration is read from ATTEST_* environment variables and an optional
.env file.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch g.outputFormat {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("unknown output format %q (want table, json or yaml)", g.outputFormat)
			}
			if g.envFile != "" {
				if err := shared.LoadDotEnv(g.envFile); err != nil {
					return fmt.Errorf("failed to load %s: %w", g.envFile, err)
				}
			}
			logger, err := shared.NewLoggerFromEnv("attestctl")
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			g.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&g.outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", "", "Load environment variables from this file")

	root.AddCommand(newVerifyCmd(g), newParseCmd(g), newPolicyCmd(g))
	return root
}

// formatOutput writes data as JSON or YAML. It reports false for table
// output, which each command renders itself.
func (g *globals) formatOutput(w io.Writer, data interface{}) (bool, error) {
	switch g.outputFormat {
	case "json":
		return true, outputJSON(w, data)
	case "yaml":
		return true, outputYAML(w, data)
	default:
		return false, nil
	}
}

func outputJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(w io.Writer, data interface{}) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func verdict(ok bool, yes, no string) string {
	if ok {
		return okFmt(yes)
	}
	return failFmt(no)
}
