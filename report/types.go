// Package report decodes vendor attestation evidence into a format-neutral
// Report. Parsers never verify signatures; they only establish that the
// evidence is structurally sound and copy out the fields the verifiers need.
package report

import (
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math/big"

	"go.mozilla.org/pkcs7"
)

// Format selects the parser and verifier strategy for a piece of evidence.
type Format int

const (
	FormatUnknown Format = iota
	FormatHardwareReport
	FormatCloudPKCS7
)

func (f Format) String() string {
	switch f {
	case FormatHardwareReport:
		return "hardware-report"
	case FormatCloudPKCS7:
		return "cloud-pkcs7"
	default:
		return "unknown"
	}
}

// Field sizes shared by both formats.
const (
	LaunchDigestSize = 48
	FamilyIDSize     = 16
	ImageIDSize      = 16
	UserDataSize     = 64
	ChipIDSize       = 64
)

// Measurements is the measured identity of the remote code.
type Measurements struct {
	LaunchDigest   [LaunchDigestSize]byte
	FamilyID       [FamilyIDSize]byte
	ImageID        [ImageIDSize]byte
	PrivilegeLevel uint32
	UserData       [UserDataSize]byte
}

// LaunchDigestHex is the lowercase hex form used in logs and policy files.
func (m Measurements) LaunchDigestHex() string {
	return hex.EncodeToString(m.LaunchDigest[:])
}

// TCBVersion is the packed security version of the firmware components that
// signed a hardware report.
type TCBVersion struct {
	BootloaderSPL uint8
	TEESPL        uint8
	SNPSPL        uint8
	MicrocodeSPL  uint8
}

// Raw repacks the version into its 64-bit on-wire form.
func (t TCBVersion) Raw() uint64 {
	return uint64(t.BootloaderSPL) |
		uint64(t.TEESPL)<<8 |
		uint64(t.SNPSPL)<<48 |
		uint64(t.MicrocodeSPL)<<56
}

func (t TCBVersion) String() string {
	return fmt.Sprintf("bl=%d tee=%d snp=%d ucode=%d", t.BootloaderSPL, t.TEESPL, t.SNPSPL, t.MicrocodeSPL)
}

func tcbFromRaw(v uint64) TCBVersion {
	return TCBVersion{
		BootloaderSPL: uint8(v),
		TEESPL:        uint8(v >> 8),
		SNPSPL:        uint8(v >> 48),
		MicrocodeSPL:  uint8(v >> 56),
	}
}

// Platform carries the hardware-report fields that identify the signing chip
// and firmware. It is zero for cloud evidence.
type Platform struct {
	GuestSVN     uint32
	GuestPolicy  uint64
	PlatformInfo uint64
	CurrentTCB   TCBVersion
	ReportedTCB  TCBVersion
	ChipID       [ChipIDSize]byte
	ReportID     [32]byte
	HostData     [32]byte
}

// Envelope holds the pieces of a PKCS7 SignedData structure that the
// signature verifier needs.
type Envelope struct {
	Certificates []*x509.Certificate

	// Content is the encapsulated claims document.
	Content []byte

	DigestAlgorithm    OID
	SignatureAlgorithm OID

	// HasSignedAttributes is false when the signer signed Content directly.
	HasSignedAttributes bool
	ContentType         OID
	MessageDigest       []byte

	IssuerRaw    []byte
	SerialNumber *big.Int

	// Message is the decoded SignedData the signature is checked against.
	Message *pkcs7.PKCS7
}

// Report is a parsed, not yet verified attestation. It owns its bytes and is
// never mutated after parsing.
type Report struct {
	Format       Format
	Version      uint32
	Measurements Measurements

	// Raw is a copy of the complete evidence as received.
	Raw []byte

	// SignedData is the byte range covered by Signature for hardware
	// reports and the encapsulated content for PKCS7 envelopes.
	SignedData []byte
	Signature  []byte

	// SignatureAlgorithm is the hardware report's algorithm field. Cloud
	// evidence carries its algorithm in Envelope.
	SignatureAlgorithm uint32

	Platform Platform
	Envelope *Envelope
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
