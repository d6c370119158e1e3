package attemptdb

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrMainBucketNotFound = errors.New("main bucket not found")
)

// AttemptStatus is the lifecycle stage of a settlement attempt.
type AttemptStatus string

const (
	StatusPending   AttemptStatus = "pending"
	StatusSubmitted AttemptStatus = "submitted"
	StatusConfirmed AttemptStatus = "confirmed"
	StatusSkipped   AttemptStatus = "skipped"
	StatusFailed    AttemptStatus = "failed"
)

// SettlementAttempt is advisory bookkeeping for one escrow's settlement.
// The on-chain state is the idempotency authority; this record exists so
// operators can inspect attempt history across restarts.
type SettlementAttempt struct {
	Escrow    string        `json:"escrow"`
	ChainKey  string        `json:"chain_key"`
	Attempts  int           `json:"attempts"`
	TxHash    string        `json:"tx_hash,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	Status    AttemptStatus `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type AttemptDB interface {
	// Record upserts the attempt, keyed by (chain, escrow).
	Record(ctx context.Context, att *SettlementAttempt) error
	Fetch(ctx context.Context, chainKey, escrow string) (*SettlementAttempt, error)
	FetchByChain(ctx context.Context, chainKey string) ([]*SettlementAttempt, error)
	Close() error
}
