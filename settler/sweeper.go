package settler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ivedmohan/chainmate/chainscan"
	"github.com/ivedmohan/chainmate/outcome"
	"github.com/ivedmohan/chainmate/registry"
)

// CandidateScanner lists the escrow instances awaiting resolution on one
// chain.
type CandidateScanner interface {
	Candidates(ctx context.Context) ([]*chainscan.EscrowInstance, error)
}

// ResolutionSubmitter drives one escrow's settlement on-chain.
type ResolutionSubmitter interface {
	Submit(ctx context.Context, inst *chainscan.EscrowInstance, rec *outcome.ReconciledOutcome) error
}

// GameFetcher fetches the untrusted raw outcome.
type GameFetcher interface {
	FetchGame(ctx context.Context, gameID string) (*outcome.RawOutcome, error)
}

// AttestationFetcher fetches the opaque attestation payload.
type AttestationFetcher interface {
	FetchPayload(ctx context.Context, gameID string) ([]byte, error)
}

// Chain bundles everything one chain's sweep needs.
type Chain struct {
	Cfg       registry.ChainConfig
	Scanner   CandidateScanner
	Submitter ResolutionSubmitter

	busy atomic.Bool
}

// Sweeper drives the fixed-cadence scan→fetch→reconcile→settle pass, one
// concurrent task per chain. A new sweep for a chain never starts while the
// previous one is still in flight (skip-if-busy, not queue-and-pile-up).
type Sweeper struct {
	log        slog.Logger
	interval   time.Duration
	chains     []*Chain
	source     GameFetcher
	attClient  AttestationFetcher
	attestor   *outcome.Attestor
	reconciler *outcome.Reconciler

	quit chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

func NewSweeper(log slog.Logger, interval time.Duration, chains []*Chain,
	source GameFetcher, attClient AttestationFetcher,
	attestor *outcome.Attestor, reconciler *outcome.Reconciler) *Sweeper {
	return &Sweeper{
		log:        log,
		interval:   interval,
		chains:     chains,
		source:     source,
		attClient:  attClient,
		attestor:   attestor,
		reconciler: reconciler,
		quit:       make(chan struct{}),
		now:        time.Now,
	}
}

// Stop prevents new sweeps from starting and waits for in-flight per-chain
// sweeps to drain. There is no mid-sweep forced cancellation; an interrupted
// settlement send is a worse failure mode than a slightly delayed shutdown.
func (sw *Sweeper) Stop() {
	close(sw.quit)
	sw.wg.Wait()
}

// Run ticks until the context is cancelled or Stop is called. An immediate
// first sweep runs on start so a restart does not wait a full interval.
func (sw *Sweeper) Run(ctx context.Context) {
	sw.log.Infof("sweeper: started, interval=%s chains=%d", sw.interval, len(sw.chains))
	defer sw.log.Infof("sweeper: stopped")

	t := time.NewTicker(sw.interval)
	defer t.Stop()

	sw.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			sw.wg.Wait()
			return
		case <-sw.quit:
			return
		case <-t.C:
			sw.tick(ctx)
		}
	}
}

func (sw *Sweeper) tick(ctx context.Context) {
	select {
	case <-sw.quit:
		return
	default:
	}
	for _, ch := range sw.chains {
		if !ch.busy.CompareAndSwap(false, true) {
			sw.log.Debugf("sweeper: %s: previous sweep still in flight; skipping tick", ch.Cfg.Key)
			continue
		}
		sw.wg.Add(1)
		go func(ch *Chain) {
			defer sw.wg.Done()
			defer ch.busy.Store(false)
			sw.SweepChain(ctx, ch)
		}(ch)
	}
}

// reconciled pairs a candidate with its derived outcome, keeping scan order.
type reconciled struct {
	inst *chainscan.EscrowInstance
	rec  *outcome.ReconciledOutcome
}

// SweepChain runs one full pass for one chain: scan candidates, fetch and
// reconcile them concurrently, then settle strictly in scan order through
// the chain's serialized submitter.
func (sw *Sweeper) SweepChain(ctx context.Context, ch *Chain) {
	sweepID := uuid.NewString()[:8]
	log := sw.log

	candidates, err := ch.Scanner.Candidates(ctx)
	if err != nil {
		log.Warnf("sweeper: %s[%s]: scan failed: %v", ch.Cfg.Key, sweepID, err)
		return
	}
	if len(candidates) == 0 {
		return
	}
	log.Debugf("sweeper: %s[%s]: %d candidate(s)", ch.Cfg.Key, sweepID, len(candidates))

	// Fetching and reconciling different candidates is read-only and may run
	// concurrently; only the sends are ordered.
	results := make([]*reconciled, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, inst := range candidates {
		g.Go(func() error {
			if rec := sw.reconcileCandidate(gctx, ch.Cfg.Key, sweepID, inst); rec != nil {
				results[i] = &reconciled{inst: inst, rec: rec}
			}
			return nil
		})
	}
	_ = g.Wait()

	// Settlement sends: strictly serialized, scan order, per-chain nonce
	// space. A fatal signer error halts the remainder of this chain's sweep.
	for _, r := range results {
		if r == nil {
			continue
		}
		if err := ch.Submitter.Submit(ctx, r.inst, r.rec); err != nil {
			if errors.Is(err, ErrChainFatal) {
				log.Errorf("sweeper: %s[%s]: halting sweep, signer fatal: %v", ch.Cfg.Key, sweepID, err)
				return
			}
			log.Warnf("sweeper: %s[%s]: escrow %s not settled this sweep: %v",
				ch.Cfg.Key, sweepID, r.rec.Escrow, err)
		}
	}
}

// reconcileCandidate fetches the raw outcome and attestation in parallel and
// derives the winner. Any rejection leaves the instance untouched for a
// future sweep; nil means "nothing to settle this sweep".
func (sw *Sweeper) reconcileCandidate(ctx context.Context, chainKey, sweepID string, inst *chainscan.EscrowInstance) *outcome.ReconciledOutcome {
	log := sw.log

	if inst.ExpiresAt > 0 && uint64(sw.now().Unix()) > inst.ExpiresAt {
		// Past expiry the dispute path owns the instance; never auto-settle.
		log.Infof("sweeper: %s[%s]: escrow %s expired; leaving for dispute handling",
			chainKey, sweepID, inst.Address)
		return nil
	}

	var raw *outcome.RawOutcome
	var payload []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		raw, err = sw.source.FetchGame(gctx, inst.GameID)
		return err
	})
	g.Go(func() error {
		var err error
		payload, err = sw.attClient.FetchPayload(gctx, inst.GameID)
		return err
	})
	if err := g.Wait(); err != nil {
		switch {
		case errors.Is(err, outcome.ErrGameNotFound), errors.Is(err, outcome.ErrAttestationNotFound):
			log.Debugf("sweeper: %s[%s]: escrow %s game %s not available yet: %v",
				chainKey, sweepID, inst.Address, inst.GameID, err)
		default:
			log.Warnf("sweeper: %s[%s]: escrow %s fetch failed: %v",
				chainKey, sweepID, inst.Address, err)
		}
		return nil
	}

	att, err := sw.attestor.Verify(payload)
	if err != nil {
		log.Warnf("sweeper: %s[%s]: escrow %s attestation rejected: %v",
			chainKey, sweepID, inst.Address, err)
		return nil
	}

	rec, err := sw.reconciler.Reconcile(inst, raw, att)
	if err != nil {
		// Unresolved results are routine (game still pending); mismatches
		// were already logged by the reconciler at error severity.
		if errors.Is(err, outcome.ErrUnresolvedResult) {
			log.Debugf("sweeper: %s[%s]: escrow %s result unknown; deferring",
				chainKey, sweepID, inst.Address)
		}
		return nil
	}
	return rec
}
