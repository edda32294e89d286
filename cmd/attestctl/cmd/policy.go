package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"enclave-verifier/policy"
	"enclave-verifier/report"
)

var errNotAllowed = errors.New("launch digest not allowed")

type policyCheckOutput struct {
	Policy                 string `json:"policy" yaml:"policy"`
	Digest                 string `json:"digest" yaml:"digest"`
	Allowed                bool   `json:"allowed" yaml:"allowed"`
	TrustedDigests         int    `json:"trusted_digests" yaml:"trusted_digests"`
	RequireTransparencyLog bool   `json:"require_transparency_log" yaml:"require_transparency_log"`
	Reason                 string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func newPolicyCmd(g *globals) *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect measurement policies",
	}

	var digest string
	check := &cobra.Command{
		Use:   "check <policy-file>",
		Short: "Check whether a policy trusts a launch digest",
		Long: `Load a TOML measurement policy and evaluate a launch digest against it
exactly as verification would.

Examples:
  attestctl policy check policy.toml --digest 3c3c...3c`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := policy.LoadFile(args[0])
			if err != nil {
				return err
			}
			d, err := policy.ParseDigest(digest)
			if err != nil {
				return err
			}

			out := policyCheckOutput{
				Policy:                 args[0],
				Digest:                 d.String(),
				TrustedDigests:         len(p.TrustedLaunchDigests),
				RequireTransparencyLog: p.RequireTransparencyLog,
			}
			if err := policy.Evaluate(report.Measurements{LaunchDigest: [report.LaunchDigestSize]byte(d)}, p); err != nil {
				out.Reason = err.Error()
			} else {
				out.Allowed = true
			}

			w := cmd.OutOrStdout()
			if handled, err := g.formatOutput(w, out); err != nil {
				return err
			} else if !handled {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "Result:\t%s\n", verdict(out.Allowed, "ALLOWED", "DENIED"))
				fmt.Fprintf(tw, "Digest:\t%s\n", out.Digest)
				fmt.Fprintf(tw, "Trusted digests:\t%d\n", out.TrustedDigests)
				fmt.Fprintf(tw, "Transparency log:\t%t\n", out.RequireTransparencyLog)
				if out.Reason != "" {
					fmt.Fprintf(tw, "Reason:\t%s\n", out.Reason)
				}
				tw.Flush()
			}
			if !out.Allowed {
				return errNotAllowed
			}
			return nil
		},
	}
	check.Flags().StringVar(&digest, "digest", "", "Launch digest to check (96 hex characters)")
	_ = check.MarkFlagRequired("digest")

	policyCmd.AddCommand(check)
	return policyCmd
}
