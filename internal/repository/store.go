// Package repository defines the receiver's persistence interface and its SQLite implementation.
package repository

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Nonce operations
	ClaimNonce(ctx context.Context, nonce string, expiresAt time.Time) (bool, error)
	PruneNonces(ctx context.Context, now time.Time) (int64, error)

	// Audit operations
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)

	Close() error
}
