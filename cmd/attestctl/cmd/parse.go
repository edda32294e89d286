package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"enclave-verifier/report"
)

type reportOutput struct {
	Format             string `json:"format" yaml:"format"`
	Version            uint32 `json:"version" yaml:"version"`
	LaunchDigest       string `json:"launch_digest" yaml:"launch_digest"`
	FamilyID           string `json:"family_id" yaml:"family_id"`
	ImageID            string `json:"image_id" yaml:"image_id"`
	PrivilegeLevel     uint32 `json:"privilege_level" yaml:"privilege_level"`
	UserData           string `json:"user_data" yaml:"user_data"`
	SignatureAlgorithm uint32 `json:"signature_algorithm,omitempty" yaml:"signature_algorithm,omitempty"`
	ChipID             string `json:"chip_id,omitempty" yaml:"chip_id,omitempty"`
	ReportedTCB        string `json:"reported_tcb,omitempty" yaml:"reported_tcb,omitempty"`
	Certificates       int    `json:"certificates,omitempty" yaml:"certificates,omitempty"`
	Claims             string `json:"claims,omitempty" yaml:"claims,omitempty"`
}

func newParseCmd(g *globals) *cobra.Command {
	var pkcs7 bool
	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Decode an attestation report without verifying it",
		Long: `Decode a hardware attestation report (raw binary or base64) or, with
--pkcs7, a cloud PKCS7 envelope, and print its measurements. Nothing is
verified.

Examples:
  attestctl parse report.bin
  attestctl parse envelope.b64 --pkcs7 -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			var out reportOutput
			if pkcs7 {
				rep, claims, err := report.ParsePKCS7(data)
				if err != nil {
					return err
				}
				out = describe(rep)
				out.Certificates = len(rep.Envelope.Certificates)
				out.Claims = string(claims.Raw)
			} else {
				rep, err := parseHardwareFile(data)
				if err != nil {
					return err
				}
				out = describe(rep)
				out.SignatureAlgorithm = rep.SignatureAlgorithm
				out.ChipID = hex.EncodeToString(rep.Platform.ChipID[:])
				out.ReportedTCB = rep.Platform.ReportedTCB.String()
			}

			w := cmd.OutOrStdout()
			if handled, err := g.formatOutput(w, out); handled || err != nil {
				return err
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "Format:\t%s\n", out.Format)
			fmt.Fprintf(tw, "Version:\t%d\n", out.Version)
			fmt.Fprintf(tw, "Launch digest:\t%s\n", out.LaunchDigest)
			fmt.Fprintf(tw, "Family ID:\t%s\n", out.FamilyID)
			fmt.Fprintf(tw, "Image ID:\t%s\n", out.ImageID)
			fmt.Fprintf(tw, "Privilege level:\t%d\n", out.PrivilegeLevel)
			fmt.Fprintf(tw, "User data:\t%s\n", out.UserData)
			if out.ChipID != "" {
				fmt.Fprintf(tw, "Signature algorithm:\t%d\n", out.SignatureAlgorithm)
				fmt.Fprintf(tw, "Chip ID:\t%s\n", out.ChipID)
				fmt.Fprintf(tw, "Reported TCB:\t%s\n", out.ReportedTCB)
			}
			if out.Certificates > 0 {
				fmt.Fprintf(tw, "Certificates:\t%d\n", out.Certificates)
			}
			tw.Flush()
			fmt.Fprintln(w, dimFmt("signature not verified"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&pkcs7, "pkcs7", false, "Input is a cloud PKCS7 envelope")
	return cmd
}

// parseHardwareFile accepts the raw report or its base64 text form.
func parseHardwareFile(data []byte) (*report.Report, error) {
	rep, err := report.ParseHardware(data)
	if err == nil {
		return rep, nil
	}
	if encoded, encErr := report.ParseHardwareEncoded(string(data)); encErr == nil {
		return encoded, nil
	}
	return nil, err
}

func describe(rep *report.Report) reportOutput {
	m := rep.Measurements
	return reportOutput{
		Format:         rep.Format.String(),
		Version:        rep.Version,
		LaunchDigest:   m.LaunchDigestHex(),
		FamilyID:       hex.EncodeToString(m.FamilyID[:]),
		ImageID:        hex.EncodeToString(m.ImageID[:]),
		PrivilegeLevel: m.PrivilegeLevel,
		UserData:       hex.EncodeToString(m.UserData[:]),
	}
}
