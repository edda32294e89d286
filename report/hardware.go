package report

import (
	"encoding/binary"

	"github.com/google/go-sev-guest/abi"
)

// Hardware report layout. All integers are little-endian.
const (
	MinimumReportSize      = abi.ReportSize
	SupportedReportVersion = 2

	offVersion       = 0x00
	offGuestSVN      = 0x04
	offPolicy        = 0x08
	offFamilyID      = 0x10
	offImageID       = 0x20
	offVMPL          = 0x30
	offSignatureAlgo = 0x34
	offCurrentTCB    = 0x38
	offReportData    = 0x50
	offMeasurement   = 0x90
	offReportedTCB   = 0x180
	offChipID        = 0x1A0
	offSignature     = 0x2A0

	// SignatureComponentSize is the width of each of r and s inside the
	// signature field, zero-extended little-endian.
	SignatureComponentSize = 72
)

// SignedRegionSize is the number of leading bytes covered by the signature.
const SignedRegionSize = offSignature

// ParseHardware decodes a fixed-layout hardware attestation report. Trailing
// bytes past MinimumReportSize (e.g. an appended certificate table) are kept
// in Raw but otherwise ignored.
func ParseHardware(raw []byte) (*Report, error) {
	if len(raw) < MinimumReportSize {
		return nil, parseErr(ParseErrorTruncated, "hardware report is %d bytes, need at least %d", len(raw), MinimumReportSize)
	}

	version := binary.LittleEndian.Uint32(raw[offVersion:])
	if version != SupportedReportVersion {
		return nil, parseErr(ParseErrorUnsupportedVersion, "hardware report version %d, only %d is supported", version, SupportedReportVersion)
	}

	pb, err := abi.ReportToProto(raw[:MinimumReportSize])
	if err != nil {
		return nil, wrapParseErr(ParseErrorMalformed, err, "hardware report")
	}

	rep := &Report{
		Format:             FormatHardwareReport,
		Version:            pb.GetVersion(),
		Raw:                cloneBytes(raw),
		Signature:          cloneBytes(pb.GetSignature()),
		SignatureAlgorithm: pb.GetSignatureAlgo(),
	}
	rep.SignedData = abi.SignedComponent(rep.Raw)[:SignedRegionSize:SignedRegionSize]

	m := &rep.Measurements
	copy(m.LaunchDigest[:], pb.GetMeasurement())
	copy(m.FamilyID[:], pb.GetFamilyId())
	copy(m.ImageID[:], pb.GetImageId())
	copy(m.UserData[:], pb.GetReportData())
	m.PrivilegeLevel = pb.GetVmpl()

	p := &rep.Platform
	p.GuestSVN = pb.GetGuestSvn()
	p.GuestPolicy = pb.GetPolicy()
	p.PlatformInfo = pb.GetPlatformInfo()
	p.CurrentTCB = tcbFromRaw(pb.GetCurrentTcb())
	p.ReportedTCB = tcbFromRaw(pb.GetReportedTcb())
	copy(p.ChipID[:], pb.GetChipId())
	copy(p.ReportID[:], pb.GetReportId())
	copy(p.HostData[:], pb.GetHostData())

	return rep, nil
}

// ParseHardwareEncoded decodes a base64 report in any variant DecodeBase64
// accepts and parses it.
func ParseHardwareEncoded(s string) (*Report, error) {
	raw, err := DecodeBase64(s)
	if err != nil {
		return nil, wrapParseErr(ParseErrorInvalidEncoding, err, "hardware report")
	}
	return ParseHardware(raw)
}

// HardwareLayout describes where fields live so tests and tooling can build
// reports without duplicating offsets.
type HardwareLayout struct {
	Version            int
	GuestSVN           int
	Policy             int
	FamilyID           int
	ImageID            int
	VMPL               int
	SignatureAlgorithm int
	CurrentTCB         int
	ReportData         int
	Measurement        int
	ReportedTCB        int
	ChipID             int
	Signature          int
}

// Layout returns the byte offsets used by ParseHardware.
func Layout() HardwareLayout {
	return HardwareLayout{
		Version:            offVersion,
		GuestSVN:           offGuestSVN,
		Policy:             offPolicy,
		FamilyID:           offFamilyID,
		ImageID:            offImageID,
		VMPL:               offVMPL,
		SignatureAlgorithm: offSignatureAlgo,
		CurrentTCB:         offCurrentTCB,
		ReportData:         offReportData,
		Measurement:        offMeasurement,
		ReportedTCB:        offReportedTCB,
		ChipID:             offChipID,
		Signature:          offSignature,
	}
}
