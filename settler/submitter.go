package settler

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ivedmohan/chainmate/chainscan"
	"github.com/ivedmohan/chainmate/outcome"
	"github.com/ivedmohan/chainmate/registry"
	"github.com/ivedmohan/chainmate/settler/attemptdb"
)

const verifierABIJSON = `[
{"name":"submitResolution","type":"function","stateMutability":"nonpayable","inputs":[
{"name":"encodedOutcome","type":"bytes"},
{"name":"escrow","type":"address"},
{"name":"partyA","type":"address"},
{"name":"partyB","type":"address"}],"outputs":[]}
]`

var verifierABI = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(verifierABIJSON))
	if err != nil {
		panic(err)
	}
	return a
}()

// outcomeArgs is the encoding of the outcome blob the verifier consumes:
// (winner, result). A zero winner address signals the draw/refund path.
var outcomeArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("uint8")},
}

func mustType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// ChainBackend is the slice of the chain RPC client the submitter needs.
// *ethclient.Client satisfies it.
type ChainBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

const (
	submitMaxAttempts  = 3
	submitInitialDelay = 2 * time.Second
	receiptPollEvery   = 2 * time.Second
	receiptWaitBudget  = 2 * time.Minute
)

// Submitter builds, signs, submits and confirms resolution transactions for
// one chain. All sends go through a single mutex so the operator key's nonce
// ordering is preserved; chains have independent nonce spaces, so each chain
// gets its own Submitter.
type Submitter struct {
	log     slog.Logger
	backend ChainBackend
	chain   registry.ChainConfig
	key     *ecdsa.PrivateKey
	from    common.Address
	db      attemptdb.AttemptDB

	// sendMu serializes the simulate→sign→send path per chain.
	sendMu sync.Mutex
}

func NewSubmitter(log slog.Logger, backend ChainBackend, chain registry.ChainConfig, key *ecdsa.PrivateKey, db attemptdb.AttemptDB) *Submitter {
	return &Submitter{
		log:     log,
		backend: backend,
		chain:   chain,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		db:      db,
	}
}

// Submit drives one escrow's resolution to the verifier contract. The
// on-chain state is the idempotency authority: an already-resolved revert is
// success (Skipped). Transient failures retry with bounded backoff inside
// this sweep; signer balance/gas failures return ErrChainFatal so the caller
// halts the rest of the chain's sweep.
func (s *Submitter) Submit(ctx context.Context, inst *chainscan.EscrowInstance, rec *outcome.ReconciledOutcome) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	att := s.loadAttempt(ctx, rec.Escrow)
	att.Attempts++
	att.Status = attemptdb.StatusPending
	s.record(ctx, att)

	data, err := s.packResolution(inst, rec)
	if err != nil {
		// Encoding never depends on chain state; a failure here is a bug.
		att.LastError = err.Error()
		att.Status = attemptdb.StatusFailed
		s.record(ctx, att)
		return err
	}

	bo := backoff.NewExponentialBackOff(backoff.WithInitialInterval(submitInitialDelay))
	var lastErr error
	for attempt := 0; attempt < submitMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(bo.NextBackOff()):
			}
		}

		err := s.submitOnce(ctx, rec, data, att)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrChainFatal), errors.Is(err, ErrDeferred):
			att.LastError = err.Error()
			s.record(ctx, att)
			return err
		case isTransient(err):
			s.log.Warnf("settler: %s: transient failure for %s (attempt %d/%d): %v",
				s.chain.Key, rec.Escrow, attempt+1, submitMaxAttempts, err)
			lastErr = err
			continue
		default:
			att.LastError = err.Error()
			s.record(ctx, att)
			return fmt.Errorf("%w: %v", ErrDeferred, err)
		}
	}

	att.LastError = lastErr.Error()
	att.Status = attemptdb.StatusFailed
	s.record(ctx, att)
	return fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

func (s *Submitter) submitOnce(ctx context.Context, rec *outcome.ReconciledOutcome, data []byte, att *attemptdb.SettlementAttempt) error {
	verifier := s.chain.Verifier
	msg := ethereum.CallMsg{From: s.from, To: &verifier, Data: data}

	// Simulate first: classifies already-resolved without burning gas, and
	// surfaces revert reasons before a nonce is consumed.
	if _, err := s.backend.CallContract(ctx, msg, nil); err != nil {
		if isAlreadyResolved(err) {
			s.log.Infof("settler: %s: escrow %s already resolved; skipping", s.chain.Key, rec.Escrow)
			att.Status = attemptdb.StatusSkipped
			s.record(ctx, att)
			return nil
		}
		if isTransient(err) {
			return err
		}
		s.log.Warnf("settler: %s: simulation revert for escrow %s (winner=%s result=%s): %v",
			s.chain.Key, rec.Escrow, rec.Winner, rec.Result, err)
		return fmt.Errorf("%w: %v", ErrDeferred, err)
	}

	gas, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		if isSignerFatal(err) {
			s.log.Errorf("settler: %s: OPERATOR SIGNER UNUSABLE (estimate gas): %v", s.chain.Key, err)
			return fmt.Errorf("%w: %v", ErrChainFatal, err)
		}
		return err
	}

	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return err
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return err
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chain.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5, // headroom over the estimate
		To:        &verifier,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chain.ChainID), s.key)
	if err != nil {
		return err
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		if isAlreadyResolved(err) {
			att.Status = attemptdb.StatusSkipped
			s.record(ctx, att)
			return nil
		}
		if isSignerFatal(err) {
			s.log.Errorf("settler: %s: OPERATOR SIGNER UNUSABLE (send): %v", s.chain.Key, err)
			return fmt.Errorf("%w: %v", ErrChainFatal, err)
		}
		return err
	}

	att.TxHash = signed.Hash().Hex()
	att.Status = attemptdb.StatusSubmitted
	s.record(ctx, att)
	s.log.Infof("settler: %s: submitted resolution for escrow %s tx=%s nonce=%d",
		s.chain.Key, rec.Escrow, att.TxHash, nonce)

	return s.awaitReceipt(ctx, signed.Hash(), rec, att)
}

// awaitReceipt polls for the mined receipt. Nonce monotonicity only needs
// the prior send to be accepted, but confirming here keeps the advisory
// record truthful before the next candidate is attempted.
func (s *Submitter) awaitReceipt(ctx context.Context, txHash common.Hash, rec *outcome.ReconciledOutcome, att *attemptdb.SettlementAttempt) error {
	deadline := time.Now().Add(receiptWaitBudget)
	t := time.NewTicker(receiptPollEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		receipt, err := s.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				att.Status = attemptdb.StatusConfirmed
				s.record(ctx, att)
				s.log.Infof("settler: %s: confirmed resolution for escrow %s tx=%s block=%d",
					s.chain.Key, rec.Escrow, txHash, receipt.BlockNumber)
				return nil
			}
			// Reverted on-chain after a clean simulation: racing state.
			// Leave the instance for the next sweep.
			s.log.Warnf("settler: %s: resolution tx reverted for escrow %s tx=%s (winner=%s result=%s)",
				s.chain.Key, rec.Escrow, txHash, rec.Winner, rec.Result)
			return fmt.Errorf("%w: tx %s reverted", ErrDeferred, txHash)
		}
		if time.Now().After(deadline) {
			// Still pending; keep the Submitted record, next sweep will see
			// the chain state and classify accordingly.
			s.log.Warnf("settler: %s: tx %s unconfirmed after %s; deferring", s.chain.Key, txHash, receiptWaitBudget)
			return fmt.Errorf("%w: tx %s unconfirmed", ErrDeferred, txHash)
		}
	}
}

func (s *Submitter) packResolution(inst *chainscan.EscrowInstance, rec *outcome.ReconciledOutcome) ([]byte, error) {
	encoded, err := outcomeArgs.Pack(rec.Winner, uint8(rec.Result))
	if err != nil {
		return nil, fmt.Errorf("encode outcome: %w", err)
	}
	data, err := verifierABI.Pack("submitResolution", encoded, rec.Escrow, inst.Creator, inst.Opponent)
	if err != nil {
		return nil, fmt.Errorf("pack submitResolution: %w", err)
	}
	return data, nil
}

func (s *Submitter) loadAttempt(ctx context.Context, escrow common.Address) *attemptdb.SettlementAttempt {
	att, err := s.db.Fetch(ctx, s.chain.Key, escrow.Hex())
	if err != nil {
		return &attemptdb.SettlementAttempt{
			Escrow:   escrow.Hex(),
			ChainKey: s.chain.Key,
			Status:   attemptdb.StatusPending,
		}
	}
	return att
}

func (s *Submitter) record(ctx context.Context, att *attemptdb.SettlementAttempt) {
	att.UpdatedAt = time.Now()
	if err := s.db.Record(ctx, att); err != nil {
		s.log.Errorf("settler: %s: record attempt for %s: %v", s.chain.Key, att.Escrow, err)
	}
}
