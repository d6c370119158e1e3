package attemptdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *BoltDB {
	t.Helper()
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "attempts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordFetchRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	att := &SettlementAttempt{
		Escrow:    "0x00000000000000000000000000000000000000A1",
		ChainKey:  "base",
		Attempts:  2,
		TxHash:    "0xabc",
		Status:    StatusSubmitted,
		UpdatedAt: time.Now(),
	}
	require.NoError(t, db.Record(ctx, att))

	// Lookup is case-insensitive on the escrow address.
	got, err := db.Fetch(ctx, "base", "0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "0xabc", got.TxHash)
}

func TestFetchNotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.Fetch(context.Background(), "base", "0xdeadbeef")
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestRecordUpsertsByChainAndEscrow(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	att := &SettlementAttempt{Escrow: "0xe5", ChainKey: "base", Status: StatusPending}
	require.NoError(t, db.Record(ctx, att))
	att.Status = StatusConfirmed
	att.Attempts = 1
	require.NoError(t, db.Record(ctx, att))

	got, err := db.Fetch(ctx, "base", "0xe5")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)

	// Same escrow on another chain is an independent record.
	other := &SettlementAttempt{Escrow: "0xe5", ChainKey: "polygon", Status: StatusPending}
	require.NoError(t, db.Record(ctx, other))
	got, err = db.Fetch(ctx, "polygon", "0xe5")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestFetchByChain(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Record(ctx, &SettlementAttempt{Escrow: "0xa1", ChainKey: "base", Status: StatusConfirmed}))
	require.NoError(t, db.Record(ctx, &SettlementAttempt{Escrow: "0xb2", ChainKey: "base", Status: StatusSkipped}))
	require.NoError(t, db.Record(ctx, &SettlementAttempt{Escrow: "0xc3", ChainKey: "polygon", Status: StatusPending}))

	got, err := db.FetchByChain(ctx, "base")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = db.FetchByChain(ctx, "arbitrum")
	require.NoError(t, err)
	assert.Empty(t, got)
}
