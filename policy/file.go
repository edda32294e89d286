package policy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileFormat is the on-disk policy. The diagnostic switch has no key here
// and unknown keys are rejected.
type fileFormat struct {
	TrustedLaunchDigests   []string `toml:"trusted_launch_digests"`
	RequireTransparencyLog bool     `toml:"require_transparency_log"`
}

// Parse decodes a TOML policy document.
func Parse(data []byte) (*Policy, error) {
	var f fileFormat
	meta, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, &PolicyError{Kind: PolicyErrorInvalidFile, Message: "failed to decode policy", Err: err}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, &PolicyError{Kind: PolicyErrorInvalidFile, Message: "unknown keys: " + strings.Join(keys, ", ")}
	}

	p := &Policy{RequireTransparencyLog: f.RequireTransparencyLog}
	for i, s := range f.TrustedLaunchDigests {
		d, err := ParseDigest(s)
		if err != nil {
			return nil, &PolicyError{Kind: PolicyErrorInvalidFile, Message: fmt.Sprintf("trusted_launch_digests[%d]", i), Err: err}
		}
		p.TrustedLaunchDigests = append(p.TrustedLaunchDigests, d)
	}
	return p, nil
}

// LoadFile reads and parses a TOML policy file.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &PolicyError{Kind: PolicyErrorInvalidFile, Message: "failed to read policy", Err: err}
	}
	return Parse(data)
}

// Encode renders p as TOML. The diagnostic switch is never written.
func Encode(p *Policy) ([]byte, error) {
	f := fileFormat{RequireTransparencyLog: p.RequireTransparencyLog}
	for _, d := range p.TrustedLaunchDigests {
		f.TrustedLaunchDigests = append(f.TrustedLaunchDigests, d.String())
	}
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(f); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}
