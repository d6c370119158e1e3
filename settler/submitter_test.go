package settler

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ivedmohan/chainmate/chainscan"
	"github.com/ivedmohan/chainmate/outcome"
	"github.com/ivedmohan/chainmate/registry"
	"github.com/ivedmohan/chainmate/settler/attemptdb"
)

// fakeBackend scripts the chain RPC surface the submitter talks to.
type fakeBackend struct {
	mu sync.Mutex

	simulateErr error
	estimateErr error
	sendErr     error
	sendErrOnce bool

	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	nonce    uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{receipts: map[common.Hash]*types.Receipt{}}
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.simulateErr != nil {
		return nil, f.simulateErr
	}
	return nil, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1e9), Number: big.NewInt(100)}, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 120_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		err := f.sendErr
		if f.sendErrOnce {
			f.sendErr = nil
		}
		return err
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(101),
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testChainCfg() registry.ChainConfig {
	return registry.ChainConfig{
		Key:      "base",
		Name:     "Base",
		ChainID:  big.NewInt(8453),
		RPCURL:   "https://rpc.example.org",
		Factory:  common.HexToAddress("0x00000000000000000000000000000000000000fa"),
		Verifier: common.HexToAddress("0x00000000000000000000000000000000000000fe"),
	}
}

func testSubmitter(t *testing.T, backend ChainBackend) (*Submitter, attemptdb.AttemptDB) {
	t.Helper()
	db, err := attemptdb.NewBoltDB(filepath.Join(t.TempDir(), "attempts.db"))
	if err != nil {
		t.Fatalf("open attempt db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return NewSubmitter(slog.Disabled, backend, testChainCfg(), key, db), db
}

func testPair() (*chainscan.EscrowInstance, *outcome.ReconciledOutcome) {
	inst := &chainscan.EscrowInstance{
		Address:  common.HexToAddress("0x00000000000000000000000000000000000000e5"),
		Creator:  common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Opponent: common.HexToAddress("0x0000000000000000000000000000000000000002"),
		GameID:   "g1",
		State:    chainscan.StateGameLinked,
	}
	rec := &outcome.ReconciledOutcome{
		Escrow:         inst.Address,
		Winner:         inst.Creator,
		Result:         outcome.ResultWhiteWin,
		AttestationRef: "deadbeef",
	}
	return inst, rec
}

func TestSubmitConfirms(t *testing.T) {
	backend := newFakeBackend()
	sub, db := testSubmitter(t, backend)
	inst, rec := testPair()

	if err := sub.Submit(context.Background(), inst, rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if backend.sendCount() != 1 {
		t.Fatalf("want exactly 1 send, got %d", backend.sendCount())
	}
	att, err := db.Fetch(context.Background(), "base", inst.Address.Hex())
	if err != nil {
		t.Fatalf("fetch attempt: %v", err)
	}
	if att.Status != attemptdb.StatusConfirmed {
		t.Fatalf("want confirmed, got %s", att.Status)
	}
	if att.TxHash == "" {
		t.Fatal("missing tx hash")
	}
}

func TestSubmitSkipsAlreadyResolved(t *testing.T) {
	backend := newFakeBackend()
	backend.simulateErr = errors.New("execution reverted: escrow already resolved")
	sub, db := testSubmitter(t, backend)
	inst, rec := testPair()

	// Already resolved is success, not an error, and must not send.
	if err := sub.Submit(context.Background(), inst, rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if backend.sendCount() != 0 {
		t.Fatalf("want 0 sends, got %d", backend.sendCount())
	}
	att, err := db.Fetch(context.Background(), "base", inst.Address.Hex())
	if err != nil {
		t.Fatalf("fetch attempt: %v", err)
	}
	if att.Status != attemptdb.StatusSkipped {
		t.Fatalf("want skipped, got %s", att.Status)
	}
}

func TestSubmitTwiceSettlesOnce(t *testing.T) {
	backend := newFakeBackend()
	sub, db := testSubmitter(t, backend)
	inst, rec := testPair()

	if err := sub.Submit(context.Background(), inst, rec); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	// The contract now reports the escrow resolved; the second submission
	// must classify as Skipped, never as a new settlement.
	backend.mu.Lock()
	backend.simulateErr = errors.New("execution reverted: proof already used")
	backend.mu.Unlock()

	if err := sub.Submit(context.Background(), inst, rec); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if backend.sendCount() != 1 {
		t.Fatalf("want exactly 1 effective send, got %d", backend.sendCount())
	}
	att, _ := db.Fetch(context.Background(), "base", inst.Address.Hex())
	if att.Status != attemptdb.StatusSkipped {
		t.Fatalf("want skipped after second submit, got %s", att.Status)
	}
}

func TestSubmitSignerFatal(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = errors.New("insufficient funds for gas * price + value")
	sub, _ := testSubmitter(t, backend)
	inst, rec := testPair()

	err := sub.Submit(context.Background(), inst, rec)
	if !errors.Is(err, ErrChainFatal) {
		t.Fatalf("want ErrChainFatal, got %v", err)
	}
	if backend.sendCount() != 0 {
		t.Fatalf("want 0 sends, got %d", backend.sendCount())
	}
}

func TestSubmitDefersOtherReverts(t *testing.T) {
	backend := newFakeBackend()
	backend.simulateErr = errors.New("execution reverted: game not linked")
	sub, _ := testSubmitter(t, backend)
	inst, rec := testPair()

	err := sub.Submit(context.Background(), inst, rec)
	if !errors.Is(err, ErrDeferred) {
		t.Fatalf("want ErrDeferred, got %v", err)
	}
	if backend.sendCount() != 0 {
		t.Fatalf("want 0 sends, got %d", backend.sendCount())
	}
}

func TestSubmitRetriesTransientSendFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("connection refused")
	backend.sendErrOnce = true
	sub, db := testSubmitter(t, backend)
	inst, rec := testPair()

	if err := sub.Submit(context.Background(), inst, rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if backend.sendCount() != 1 {
		t.Fatalf("want 1 successful send after retry, got %d", backend.sendCount())
	}
	att, _ := db.Fetch(context.Background(), "base", inst.Address.Hex())
	if att.Status != attemptdb.StatusConfirmed {
		t.Fatalf("want confirmed, got %s", att.Status)
	}
}
