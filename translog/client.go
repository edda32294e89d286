// Package translog cross-checks a build digest against a public append-only
// transparency log with a Rekor-style REST API.
package translog

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"enclave-verifier/shared"
)

const (
	// HashAlgorithm names the digest in index queries and entry bodies.
	HashAlgorithm = "sha384"

	maxIndexResponse = 64 * 1024
	maxEntryResponse = 256 * 1024
)

// InclusionProof is an RFC 6962 audit path for one entry.
type InclusionProof struct {
	LogIndex int64
	TreeSize int64
	RootHash []byte
	Hashes   [][]byte
}

// LogEntry is the matching entry returned by CrossCheck.
type LogEntry struct {
	UUID           string
	LogIndex       int64
	IntegratedTime time.Time
	LogID          string
	Body           []byte
	InclusionProof *InclusionProof
}

// Checker is the interface the orchestrator depends on.
type Checker interface {
	CrossCheck(ctx context.Context, digest []byte) (*LogEntry, error)
}

// Client queries one log instance. It holds no mutable state.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *shared.Logger
}

// NewClient returns a client for the log at baseURL.
func NewClient(baseURL string, httpClient *http.Client, logger *shared.Logger) *Client {
	if httpClient == nil {
		httpClient = shared.NewHTTPClient(shared.DefaultHTTPTimeout)
	}
	if logger == nil {
		logger = shared.NopLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		logger:  logger,
	}
}

type wireEntry struct {
	Body           string `json:"body"`
	IntegratedTime int64  `json:"integratedTime"`
	LogID          string `json:"logID"`
	LogIndex       int64  `json:"logIndex"`
	Verification   *struct {
		InclusionProof *struct {
			LogIndex int64    `json:"logIndex"`
			TreeSize int64    `json:"treeSize"`
			RootHash string   `json:"rootHash"`
			Hashes   []string `json:"hashes"`
		} `json:"inclusionProof"`
	} `json:"verification"`
}

// entryBody is the part of a log entry body that records the artifact hash.
type entryBody struct {
	Kind string `json:"kind"`
	Spec struct {
		Data struct {
			Hash struct {
				Algorithm string `json:"algorithm"`
				Value     string `json:"value"`
			} `json:"hash"`
		} `json:"data"`
	} `json:"spec"`
}

// CrossCheck returns the first log entry that records digest. No entry is
// LogErrorNotFound; entries that exist but record a different hash or fail
// their inclusion proof are rejected.
func (c *Client) CrossCheck(ctx context.Context, digest []byte) (*LogEntry, error) {
	if len(digest) == 0 {
		return nil, &LogError{Kind: LogErrorMalformed, Message: "empty digest"}
	}
	hexDigest := hex.EncodeToString(digest)

	uuids, err := c.search(ctx, hexDigest)
	if err != nil {
		return nil, err
	}
	if len(uuids) == 0 {
		return nil, &LogError{Kind: LogErrorNotFound, Message: "no entry for " + HashAlgorithm + ":" + hexDigest}
	}

	var lastErr error
	for _, id := range uuids {
		entry, err := c.fetchEntry(ctx, id)
		if err != nil {
			var le *LogError
			if errors.As(err, &le) && le.Kind == LogErrorNetwork {
				return nil, err
			}
			lastErr = err
			continue
		}
		if err := checkEntry(entry, hexDigest); err != nil {
			lastErr = err
			continue
		}
		c.logger.Info("Transparency log entry found",
			zap.String("uuid", entry.UUID),
			zap.Int64("log_index", entry.LogIndex))
		return entry, nil
	}
	return nil, lastErr
}

func (c *Client) search(ctx context.Context, hexDigest string) ([]string, error) {
	payload, err := json.Marshal(map[string]string{"hash": HashAlgorithm + ":" + hexDigest})
	if err != nil {
		return nil, &LogError{Kind: LogErrorMalformed, Message: "encode query", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/index/retrieve", bytes.NewReader(payload))
	if err != nil {
		return nil, &LogError{Kind: LogErrorNetwork, Message: "build query", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, maxIndexResponse)
	if err != nil {
		return nil, err
	}
	var uuids []string
	if err := json.Unmarshal(body, &uuids); err != nil {
		return nil, &LogError{Kind: LogErrorMalformed, Message: "index response", Err: err}
	}
	return uuids, nil
}

func (c *Client) fetchEntry(ctx context.Context, id string) (*LogEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/log/entries/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, &LogError{Kind: LogErrorNetwork, Message: "build entry request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, maxEntryResponse)
	if err != nil {
		return nil, err
	}
	var entries map[string]wireEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, &LogError{Kind: LogErrorMalformed, Message: "entry response", Err: err}
	}
	w, ok := entries[id]
	if !ok {
		return nil, &LogError{Kind: LogErrorMalformed, Message: "entry response does not contain " + id}
	}
	return decodeEntry(id, w)
}

func (c *Client) do(req *http.Request, limit int64) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &LogError{Kind: LogErrorNetwork, Message: req.Method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &LogError{Kind: LogErrorNotFound, Message: req.URL.Path}
	case resp.StatusCode != http.StatusOK:
		return nil, &LogError{Kind: LogErrorNetwork, Message: fmt.Sprintf("%s returned HTTP %d", req.URL.Path, resp.StatusCode)}
	}
	body, err := shared.ReadLimitedBody(resp, limit)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, &LogError{Kind: LogErrorNetwork, Message: "read interrupted", Err: req.Context().Err()}
		}
		return nil, &LogError{Kind: LogErrorMalformed, Message: "read response", Err: err}
	}
	return body, nil
}

func decodeEntry(id string, w wireEntry) (*LogEntry, error) {
	body, err := base64.StdEncoding.DecodeString(w.Body)
	if err != nil {
		return nil, &LogError{Kind: LogErrorMalformed, Message: "entry body is not base64", Err: err}
	}
	e := &LogEntry{
		UUID:           id,
		LogIndex:       w.LogIndex,
		IntegratedTime: time.Unix(w.IntegratedTime, 0).UTC(),
		LogID:          w.LogID,
		Body:           body,
	}
	if w.Verification == nil || w.Verification.InclusionProof == nil {
		return e, nil
	}
	p := w.Verification.InclusionProof
	proof := &InclusionProof{LogIndex: p.LogIndex, TreeSize: p.TreeSize}
	if proof.RootHash, err = hex.DecodeString(p.RootHash); err != nil {
		return nil, &LogError{Kind: LogErrorMalformed, Message: "inclusion proof root", Err: err}
	}
	for _, h := range p.Hashes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, &LogError{Kind: LogErrorMalformed, Message: "inclusion proof hash", Err: err}
		}
		proof.Hashes = append(proof.Hashes, b)
	}
	e.InclusionProof = proof
	return e, nil
}

// checkEntry requires the body to record hexDigest and the attached proof to
// place the body in the tree. The root hash comes from the same response and
// is not tied to a signed checkpoint, so a log that lies consistently about
// its tree is not caught here.
func checkEntry(e *LogEntry, hexDigest string) error {
	var body entryBody
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return &LogError{Kind: LogErrorMalformed, Message: "entry body is not JSON", Err: err}
	}
	h := body.Spec.Data.Hash
	if !strings.EqualFold(h.Algorithm, HashAlgorithm) ||
		subtle.ConstantTimeCompare([]byte(strings.ToLower(h.Value)), []byte(hexDigest)) != 1 {
		return &LogError{Kind: LogErrorMismatch, Message: fmt.Sprintf("entry %s records %s:%s", e.UUID, h.Algorithm, h.Value)}
	}

	p := e.InclusionProof
	if p == nil {
		return &LogError{Kind: LogErrorInvalidProof, Message: "entry " + e.UUID + " has no inclusion proof"}
	}
	if p.LogIndex < 0 || p.TreeSize <= 0 {
		return &LogError{Kind: LogErrorInvalidProof, Message: "inclusion proof has invalid bounds"}
	}
	if err := VerifyInclusion(uint64(p.LogIndex), uint64(p.TreeSize), LeafHash(e.Body), p.Hashes, p.RootHash); err != nil {
		return &LogError{Kind: LogErrorInvalidProof, Message: "entry " + e.UUID, Err: err}
	}
	return nil
}
