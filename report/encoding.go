package report

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var errNotBase64 = errors.New("not valid standard or URL-safe base64")

// DecodeBase64 accepts every base64 flavour cloud metadata services have been
// seen to emit: standard or URL-safe alphabet, with or without padding, with
// line breaks, spaces or a PEM-style armour around it.
func DecodeBase64(s string) ([]byte, error) {
	s = stripArmor(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, errNotBase64
	}

	urlSafe := strings.ContainsAny(s, "-_")
	if urlSafe && strings.ContainsAny(s, "+/") {
		return nil, errNotBase64
	}
	s = strings.TrimRight(s, "=")

	enc := base64.RawStdEncoding
	if urlSafe {
		enc = base64.RawURLEncoding
	}
	out, err := enc.DecodeString(s)
	if err != nil {
		return nil, errNotBase64
	}
	return out, nil
}

// stripArmor removes "-----BEGIN ...-----" / "-----END ...-----" lines.
func stripArmor(s string) string {
	if !strings.Contains(s, "-----BEGIN") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "-----") {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// DecodeKey decodes a key or digest that may be hex (optionally 0x-prefixed)
// or base64 in any of the variants DecodeBase64 accepts. Hex wins when the
// string is valid hex.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(h)%2 == 0 && h != "" {
		if b, err := hex.DecodeString(h); err == nil {
			return b, nil
		}
	}
	return DecodeBase64(s)
}
