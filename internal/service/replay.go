package service

import (
	"context"
	"fmt"
	"time"
)

// checkReplay enforces timestamp freshness and single use of nonces.
func (s *Service) checkReplay(ctx context.Context, nonce string, timestamp int64) (bool, error) {
	now := s.now()
	if _, err := s.store.PruneNonces(ctx, now); err != nil {
		s.logger.Warn("nonce prune failed", "error", err)
	}

	if nonce == "" || timestamp == 0 {
		return false, nil
	}

	// Compare in whole seconds; timestamp is caller supplied and may be any int64.
	nowSec := now.Unix()
	tolerance := int64(s.config.TimestampTolerance / time.Second)
	if timestamp > nowSec+tolerance || timestamp < nowSec-tolerance {
		return false, nil
	}

	// Hold the nonce for as long as the request could still pass the
	// freshness check above.
	expiresAt := now.Add(s.config.NonceTTL)
	if fresh := time.Unix(timestamp+tolerance+1, 0); fresh.After(expiresAt) {
		expiresAt = fresh
	}

	claimed, err := s.store.ClaimNonce(ctx, nonce, expiresAt)
	if err != nil {
		return false, fmt.Errorf("replay check failed: %w", err)
	}
	return claimed, nil
}
