package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"enclave-verifier/attestation"
	"enclave-verifier/report"
)

var errRejected = errors.New("attestation rejected")

type failureOutput struct {
	Kind         string `json:"kind" yaml:"kind"`
	Step         string `json:"step" yaml:"step"`
	Reason       string `json:"reason" yaml:"reason"`
	LaunchDigest string `json:"launch_digest,omitempty" yaml:"launch_digest,omitempty"`
}

type verifyOutput struct {
	VerificationID string          `json:"verification_id" yaml:"verification_id"`
	Endpoint       string          `json:"endpoint" yaml:"endpoint"`
	Valid          bool            `json:"valid" yaml:"valid"`
	Format         string          `json:"format,omitempty" yaml:"format,omitempty"`
	LaunchDigest   string          `json:"launch_digest,omitempty" yaml:"launch_digest,omitempty"`
	LogIndex       *int64          `json:"log_index,omitempty" yaml:"log_index,omitempty"`
	Failure        *failureOutput  `json:"failure,omitempty" yaml:"failure,omitempty"`
	Diagnostics    []failureOutput `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

func toFailureOutput(f *attestation.Failure) failureOutput {
	return failureOutput{
		Kind:         f.Kind.String(),
		Step:         string(f.Step),
		Reason:       f.Error(),
		LaunchDigest: f.LaunchDigest,
	}
}

func newVerifyCmd(g *globals) *cobra.Command {
	var (
		endpoint   string
		publicKey  string
		policyFile string
		format     string
		nonce      string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Fetch and verify an enclave attestation",
		Long: `Fetch a fresh attestation from an enclave endpoint and verify its vendor
signature chain, the binding of the expected public key, the launch digest
policy and, when the policy requires it, the transparency log.

Examples:
  attestctl verify --endpoint https://enclave.example/attestation --public-key 04ab...
  attestctl verify --endpoint https://enclave.example/attestation --public-key 04ab... --policy policy.toml -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := report.DecodeKey(publicKey)
			if err != nil {
				return fmt.Errorf("--public-key must be hex or base64: %w", err)
			}
			var opts []attestation.CallOption
			if format != "" {
				f := attestation.FormatForType(format)
				if f == report.FormatUnknown {
					return fmt.Errorf("unsupported --format %q", format)
				}
				opts = append(opts, attestation.WithFormat(f))
			}
			if nonce != "" {
				opts = append(opts, attestation.WithNonce(nonce))
			}

			cfg, err := attestation.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			if policyFile != "" {
				cfg.PolicyFile = policyFile
			}
			p, err := cfg.LoadPolicy()
			if err != nil {
				return err
			}
			v, err := cfg.NewVerifier(g.logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res := v.FetchAndVerify(ctx, endpoint, key, p, opts...)

			out := verifyOutput{VerificationID: res.ID(), Endpoint: endpoint, Valid: res.Valid()}
			if verified, ok := res.Verified(); ok {
				out.Format = verified.Format.String()
				out.LaunchDigest = verified.Report.Measurements.LaunchDigestHex()
				if verified.LogEntry != nil {
					idx := verified.LogEntry.LogIndex
					out.LogIndex = &idx
				}
			} else {
				f := toFailureOutput(res.Failure())
				out.Failure = &f
				out.LaunchDigest = f.LaunchDigest
				for _, d := range res.Diagnostics() {
					out.Diagnostics = append(out.Diagnostics, toFailureOutput(d))
				}
			}

			w := cmd.OutOrStdout()
			if handled, err := g.formatOutput(w, out); err != nil {
				return err
			} else if !handled {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "Result:\t%s\n", verdict(out.Valid, "VALID", "INVALID"))
				fmt.Fprintf(tw, "Verification ID:\t%s\n", dimFmt(out.VerificationID))
				fmt.Fprintf(tw, "Endpoint:\t%s\n", out.Endpoint)
				if out.Format != "" {
					fmt.Fprintf(tw, "Format:\t%s\n", out.Format)
				}
				if out.LaunchDigest != "" {
					fmt.Fprintf(tw, "Launch digest:\t%s\n", out.LaunchDigest)
				}
				if out.LogIndex != nil {
					fmt.Fprintf(tw, "Log index:\t%d\n", *out.LogIndex)
				}
				if out.Failure != nil {
					fmt.Fprintf(tw, "Failure:\t%s at %s\n", out.Failure.Kind, out.Failure.Step)
					fmt.Fprintf(tw, "Reason:\t%s\n", out.Failure.Reason)
				}
				for _, d := range out.Diagnostics {
					fmt.Fprintf(tw, "Diagnostic:\t%s at %s\n", d.Kind, d.Step)
				}
				tw.Flush()
			}

			if !out.Valid {
				return errRejected
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Attestation endpoint URL")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "Expected enclave public key (hex or base64)")
	cmd.Flags().StringVar(&policyFile, "policy", "", "Measurement policy file (default: $ATTEST_POLICY_FILE)")
	cmd.Flags().StringVar(&format, "format", "", "Require an attestation type: sev-snp, azure-pkcs7 or pkcs7")
	cmd.Flags().StringVar(&nonce, "nonce", "", "Challenge the endpoint with a nonce the report must commit to")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall verification timeout")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}
