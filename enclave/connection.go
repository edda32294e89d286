// Package enclave tracks whether the application currently trusts a remote
// enclave. Trust only ever comes from a Valid attestation result and is
// dropped on lock or logout.
package enclave

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"enclave-verifier/attestation"
	"enclave-verifier/policy"
	"enclave-verifier/shared"
)

// State is the trust state of a Connection.
type State int32

const (
	StateNone State = iota
	StateConnecting
	StateVerified
	StateUnverified
	StateError
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateVerified:
		return "verified"
	case StateUnverified:
		return "unverified"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Verifier is the part of attestation.Verifier a Connection uses.
type Verifier interface {
	FetchAndVerify(ctx context.Context, endpoint string, expectedKey []byte, p *policy.Policy, opts ...attestation.CallOption) attestation.Result
	ClearCache()
}

// Snapshot is a consistent view of a Connection.
type Snapshot struct {
	State      State
	Verified   *attestation.Verified
	Failure    *attestation.Failure
	Generation uint64
}

// Config configures a Connection.
type Config struct {
	Endpoint string
	Verifier Verifier
	Logger   *shared.Logger

	// OnChange, if set, is called after every state change with the lock
	// released.
	OnChange func(Snapshot)
}

// ErrNoVerifier is returned by NewConnection when Config.Verifier is unset.
var ErrNoVerifier = errors.New("enclave: connection requires a verifier")

// Connection owns the trust state for one enclave endpoint.
type Connection struct {
	endpoint string
	verifier Verifier
	logger   *shared.Logger
	onChange func(Snapshot)

	mu         sync.Mutex
	state      State
	verified   *attestation.Verified
	failure    *attestation.Failure
	generation uint64
}

// NewConnection returns a Connection in StateNone.
func NewConnection(cfg Config) (*Connection, error) {
	if cfg.Verifier == nil {
		return nil, ErrNoVerifier
	}
	if v, ok := cfg.Verifier.(*attestation.Verifier); ok && v == nil {
		return nil, ErrNoVerifier
	}
	logger := cfg.Logger
	if logger == nil {
		logger = shared.NopLogger()
	}
	return &Connection{
		endpoint: cfg.Endpoint,
		verifier: cfg.Verifier,
		logger:   logger.WithEndpoint(cfg.Endpoint),
		onChange: cfg.OnChange,
	}, nil
}

// Connect verifies the endpoint for expectedKey and moves to Verified,
// Unverified or Error. A later Connect or Lock supersedes this call; its
// result is then discarded and the returned snapshot reflects the newer
// state.
func (c *Connection) Connect(ctx context.Context, expectedKey []byte, p *policy.Policy, opts ...attestation.CallOption) Snapshot {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.state, c.verified, c.failure = StateConnecting, nil, nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	res := c.verifier.FetchAndVerify(ctx, c.endpoint, expectedKey, p, opts...)

	c.mu.Lock()
	if c.generation != gen {
		snap = c.snapshotLocked()
		c.mu.Unlock()
		c.logger.Info("Discarding superseded verification result",
			zap.String("verification_id", res.ID()),
			zap.Uint64("generation", gen))
		return snap
	}
	if v, ok := res.Verified(); ok {
		c.state, c.verified = StateVerified, v
	} else {
		f := res.Failure()
		c.failure = f
		c.state = StateUnverified
		if f.Kind == attestation.FailureNetwork {
			c.state = StateError
		}
	}
	snap = c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("Enclave trust state changed",
		zap.String("state", snap.State.String()),
		zap.String("verification_id", res.ID()))
	c.notify(snap)
	return snap
}

// Lock drops all trust, discards in-flight verifications and clears the
// signing certificate cache.
func (c *Connection) Lock() {
	c.mu.Lock()
	c.generation++
	c.state, c.verified, c.failure = StateNone, nil, nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if c.verifier != nil {
		c.verifier.ClearCache()
	}
	c.logger.Info("Enclave trust cleared")
	c.notify(snap)
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current state with its payload.
func (c *Connection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// BoundKey returns the attested session key while the connection is
// Verified.
func (c *Connection) BoundKey() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateVerified || c.verified == nil {
		return nil, false
	}
	return append([]byte(nil), c.verified.PublicKey...), true
}

func (c *Connection) snapshotLocked() Snapshot {
	return Snapshot{
		State:      c.state,
		Verified:   c.verified,
		Failure:    c.failure,
		Generation: c.generation,
	}
}

func (c *Connection) notify(s Snapshot) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
