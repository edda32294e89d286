package report

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Claims is the JSON document carried inside a cloud PKCS7 envelope.
type Claims struct {
	LaunchDigest   string          `json:"launchDigest"`
	UserData       string          `json:"userData"`
	FamilyID       string          `json:"familyId,omitempty"`
	ImageID        string          `json:"imageId,omitempty"`
	PrivilegeLevel uint32          `json:"privilegeLevel,omitempty"`
	VMID           string          `json:"vmId,omitempty"`
	Nonce          string          `json:"nonce,omitempty"`
	TimeStamp      *ClaimTimeStamp `json:"timeStamp,omitempty"`

	// Raw is the exact document that was signed.
	Raw []byte `json:"-"`
}

// ClaimTimeStamp is the validity window the cloud vendor attaches to claims.
type ClaimTimeStamp struct {
	CreatedOn string `json:"createdOn"`
	ExpiresOn string `json:"expiresOn"`
}

const claimsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["launchDigest", "userData"],
  "properties": {
    "launchDigest": {"type": "string", "pattern": "^(0x)?[0-9a-fA-F]{96}$"},
    "userData": {"type": "string", "minLength": 1, "maxLength": 140},
    "familyId": {"type": "string", "pattern": "^[0-9a-fA-F]{0,32}$"},
    "imageId": {"type": "string", "pattern": "^[0-9a-fA-F]{0,32}$"},
    "privilegeLevel": {"type": "integer", "minimum": 0, "maximum": 4294967295},
    "vmId": {"type": "string"},
    "nonce": {"type": "string"},
    "timeStamp": {
      "type": "object",
      "properties": {
        "createdOn": {"type": "string"},
        "expiresOn": {"type": "string"}
      }
    }
  }
}`

var (
	claimsSchemaOnce     sync.Once
	compiledClaimsSchema *gojsonschema.Schema
	claimsSchemaErr      error
)

func claimsValidator() (*gojsonschema.Schema, error) {
	claimsSchemaOnce.Do(func() {
		compiledClaimsSchema, claimsSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(claimsSchema))
	})
	return compiledClaimsSchema, claimsSchemaErr
}

// ParseClaims validates content against the claims schema and decodes it.
func ParseClaims(content []byte) (*Claims, error) {
	if len(content) == 0 {
		return nil, parseErr(ParseErrorInvalidClaims, "empty claims document")
	}
	schema, err := claimsValidator()
	if err != nil {
		return nil, wrapParseErr(ParseErrorInvalidClaims, err, "claims schema")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(content))
	if err != nil {
		return nil, wrapParseErr(ParseErrorInvalidClaims, err, "claims are not JSON")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, parseErr(ParseErrorInvalidClaims, "claims failed validation: %s", strings.Join(msgs, "; "))
	}

	var c Claims
	if err := json.Unmarshal(content, &c); err != nil {
		return nil, wrapParseErr(ParseErrorInvalidClaims, err, "decode claims")
	}
	c.Raw = cloneBytes(content)
	return &c, nil
}

// Measurements converts the textual claims into fixed-size measurements.
func (c *Claims) Measurements() (Measurements, error) {
	var m Measurements

	digest, err := hex.DecodeString(strings.TrimPrefix(c.LaunchDigest, "0x"))
	if err != nil || len(digest) != LaunchDigestSize {
		return m, parseErr(ParseErrorInvalidClaims, "launchDigest must be %d hex-encoded bytes", LaunchDigestSize)
	}
	copy(m.LaunchDigest[:], digest)

	userData, err := DecodeKey(c.UserData)
	if err != nil {
		return m, wrapParseErr(ParseErrorInvalidClaims, err, "userData")
	}
	if len(userData) > UserDataSize {
		return m, parseErr(ParseErrorInvalidClaims, "userData is %d bytes, limit %d", len(userData), UserDataSize)
	}
	copy(m.UserData[:], userData)

	if err := decodeFixedHex(m.FamilyID[:], c.FamilyID, "familyId"); err != nil {
		return m, err
	}
	if err := decodeFixedHex(m.ImageID[:], c.ImageID, "imageId"); err != nil {
		return m, err
	}
	m.PrivilegeLevel = c.PrivilegeLevel
	return m, nil
}

func decodeFixedHex(dst []byte, s, field string) error {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) > len(dst) {
		return parseErr(ParseErrorInvalidClaims, "%s must be at most %d hex-encoded bytes", field, len(dst))
	}
	copy(dst, b)
	return nil
}

// Cloud metadata services emit timestamps in this layout; RFC 3339 is also
// accepted.
const azureTimeLayout = "01/02/06 15:04:05 -0700"

// ExpiresAt returns the end of the claims validity window. ok is false when
// the claims carry no expiry.
func (c *Claims) ExpiresAt() (t time.Time, ok bool, err error) {
	if c.TimeStamp == nil || c.TimeStamp.ExpiresOn == "" {
		return time.Time{}, false, nil
	}
	t, err = parseClaimTime(c.TimeStamp.ExpiresOn)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func parseClaimTime(s string) (time.Time, error) {
	for _, layout := range []string{azureTimeLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, parseErr(ParseErrorInvalidClaims, "unrecognised timestamp %q", s)
}

// String gives a short description for logs.
func (c *Claims) String() string {
	return fmt.Sprintf("claims{launchDigest=%s vmId=%s}", c.LaunchDigest, c.VMID)
}
