package attesttest

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"enclave-verifier/translog"
)

// TransparencyLog is a fake Rekor-style log backed by an in-memory RFC 6962
// tree. Every served entry carries an inclusion proof against the current
// tree head.
type TransparencyLog struct {
	*httptest.Server

	searches atomic.Int32

	mu      sync.Mutex
	leaves  [][]byte
	index   map[string][]string
	byUUID  map[string]int
	status  int
	tamper  bool
	noProof bool
	created time.Time
}

// NewTransparencyLog starts an empty log.
func NewTransparencyLog(tb testing.TB) *TransparencyLog {
	tb.Helper()
	l := &TransparencyLog{
		index:   make(map[string][]string),
		byUUID:  make(map[string]int),
		status:  http.StatusOK,
		created: time.Unix(1700000000, 0),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/index/retrieve", l.retrieve)
	mux.HandleFunc("/api/v1/log/entries/", l.entry)
	l.Server = httptest.NewServer(mux)
	tb.Cleanup(l.Close)
	return l
}

// HashedRekordBody returns an entry body recording a sha384 artifact hash.
func HashedRekordBody(digest []byte) []byte {
	body, _ := json.Marshal(map[string]any{
		"apiVersion": "0.0.1",
		"kind":       "hashedrekord",
		"spec": map[string]any{
			"data": map[string]any{
				"hash": map[string]string{
					"algorithm": "sha384",
					"value":     hex.EncodeToString(digest),
				},
			},
		},
	})
	return body
}

// AddDigest appends an entry for digest and returns its UUID.
func (l *TransparencyLog) AddDigest(digest []byte) string {
	return l.AddEntry(digest, HashedRekordBody(digest))
}

// AddEntry appends body and indexes it under digest, whether or not the body
// records that digest.
func (l *TransparencyLog) AddEntry(digest, body []byte) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	uuid := hex.EncodeToString(translog.LeafHash(body))
	key := "sha384:" + hex.EncodeToString(digest)
	l.byUUID[uuid] = len(l.leaves)
	l.leaves = append(l.leaves, body)
	l.index[key] = append(l.index[key], uuid)
	return uuid
}

// SetStatus makes later requests fail with status.
func (l *TransparencyLog) SetStatus(status int) {
	l.mu.Lock()
	l.status = status
	l.mu.Unlock()
}

// TamperProofs makes served inclusion proofs name the wrong root.
func (l *TransparencyLog) TamperProofs(on bool) {
	l.mu.Lock()
	l.tamper = on
	l.mu.Unlock()
}

// OmitProofs makes served entries carry no verification block.
func (l *TransparencyLog) OmitProofs(on bool) {
	l.mu.Lock()
	l.noProof = on
	l.mu.Unlock()
}

// Searches reports how many index queries reached the log.
func (l *TransparencyLog) Searches() int { return int(l.searches.Load()) }

func (l *TransparencyLog) retrieve(w http.ResponseWriter, r *http.Request) {
	l.searches.Add(1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var q struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	l.mu.Lock()
	status := l.status
	uuids := append([]string{}, l.index[strings.ToLower(q.Hash)]...)
	l.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(uuids)
}

func (l *TransparencyLog) entry(w http.ResponseWriter, r *http.Request) {
	uuid := strings.TrimPrefix(r.URL.Path, "/api/v1/log/entries/")

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != http.StatusOK {
		w.WriteHeader(l.status)
		return
	}
	idx, ok := l.byUUID[uuid]
	if !ok {
		http.NotFound(w, r)
		return
	}

	hashes := make([][]byte, len(l.leaves))
	for i, leaf := range l.leaves {
		hashes[i] = translog.LeafHash(leaf)
	}
	root := treeHash(hashes)
	if l.tamper {
		root = translog.NodeHash(root, root)
	}
	path := auditPath(idx, hashes)
	pathHex := make([]string, len(path))
	for i, h := range path {
		pathHex[i] = hex.EncodeToString(h)
	}

	entry := map[string]any{
		"body":           base64.StdEncoding.EncodeToString(l.leaves[idx]),
		"integratedTime": l.created.Add(time.Duration(idx) * time.Minute).Unix(),
		"logID":          "c0d23d6ad406973f9559f3ba2d1ca01f84147d8ffc5b8445c224f98b9591801d",
		"logIndex":       idx,
	}
	if !l.noProof {
		entry["verification"] = map[string]any{
			"inclusionProof": map[string]any{
				"logIndex": idx,
				"treeSize": len(l.leaves),
				"rootHash": hex.EncodeToString(root),
				"hashes":   pathHex,
			},
		}
	}
	resp := map[string]any{uuid: entry}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// treeHash is MTH from RFC 6962 section 2.1 over leaf hashes.
func treeHash(leaves [][]byte) []byte {
	if len(leaves) == 1 {
		return leaves[0]
	}
	k := split(len(leaves))
	return translog.NodeHash(treeHash(leaves[:k]), treeHash(leaves[k:]))
}

// auditPath is PATH from RFC 6962 section 2.1.1, ordered leaf to root.
func auditPath(m int, leaves [][]byte) [][]byte {
	if len(leaves) <= 1 {
		return nil
	}
	k := split(len(leaves))
	if m < k {
		return append(auditPath(m, leaves[:k]), treeHash(leaves[k:]))
	}
	return append(auditPath(m-k, leaves[k:]), treeHash(leaves[:k]))
}

// split returns the largest power of two smaller than n.
func split(n int) int {
	k := 1
	for k<<1 < n {
		k <<= 1
	}
	return k
}
