package kds

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"enclave-verifier/shared"
)

type cacheKey struct {
	chip [64]byte
	tcb  uint64
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s/%016x", hex.EncodeToString(k.chip[:]), k.tcb)
}

// Cache memoises successful resolutions by device identity and firmware
// version. The mapping is immutable so entries never expire; Clear drops
// them all. Failures are not cached. The cache is owned by whoever creates
// it and is safe for concurrent use.
type Cache struct {
	source CertificateSource
	logger *shared.Logger

	mu         sync.RWMutex
	entries    map[cacheKey]*x509.Certificate
	generation uint64

	group singleflight.Group
}

// NewCache wraps source.
func NewCache(source CertificateSource, logger *shared.Logger) *Cache {
	if logger == nil {
		logger = shared.NopLogger()
	}
	return &Cache{
		source:  source,
		logger:  logger,
		entries: make(map[cacheKey]*x509.Certificate),
	}
}

// Resolve implements CertificateSource. Concurrent misses for the same key
// share one upstream request. That request is detached from the caller that
// started it, so a cancelled caller returns early without failing the
// others; it stays bounded by the source's own timeout.
func (c *Cache) Resolve(ctx context.Context, id DeviceIdentity, fw FirmwareVersion) (*x509.Certificate, error) {
	key := cacheKey{chip: id.ChipID, tcb: fw.Raw()}

	c.mu.RLock()
	cert, ok := c.entries[key]
	gen := c.generation
	c.mu.RUnlock()
	if ok {
		return cert, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		cert, err := c.source.Resolve(fetchCtx, id, fw)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// A Clear while the request was in flight wins.
		if c.generation == gen {
			c.entries[key] = cert
		}
		c.mu.Unlock()
		return cert, nil
	})

	select {
	case <-ctx.Done():
		return nil, &ResolutionError{Kind: ResolutionErrorNetwork, Message: "resolution abandoned", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			c.logger.Warn("Signing certificate resolution failed",
				zap.String("tcb", fw.String()),
				zap.Bool("shared", res.Shared),
				zap.Error(res.Err))
			return nil, res.Err
		}
		return res.Val.(*x509.Certificate), nil
	}
}

// Clear evicts every entry. It is called when the host application locks or
// logs out.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]*x509.Certificate)
	c.generation++
	c.mu.Unlock()
}

// Len reports the number of cached certificates.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
