package settler

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	// ErrChainFatal means the operator credential cannot send on this chain
	// (balance or gas-funding failure). The remainder of the chain's sweep
	// must halt; retrying against a structurally broken signer burns nothing
	// but time.
	ErrChainFatal = errors.New("operator signer unusable on chain")

	// ErrRetriesExhausted means a transient failure outlived the per-sweep
	// retry budget. The escrow is retried on the next scheduled sweep.
	ErrRetriesExhausted = errors.New("retry budget exhausted")

	// ErrDeferred means the contract reverted for a reason other than
	// already-resolved; the underlying cause may be transient on-chain
	// state, so the instance is left for the next sweep.
	ErrDeferred = errors.New("settlement deferred")
)

// Revert substrings the verifier contract uses for idempotency signalling.
// Both map to "someone already settled this"; treated as success.
var alreadyResolvedMarkers = []string{
	"already resolved",
	"proof already used",
}

func isAlreadyResolved(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range alreadyResolvedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// isSignerFatal reports operator-credential failures: the one error class
// that should page a human.
func isSignerFatal(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "insufficient balance")
}

// isTransient reports infrastructure errors worth retrying within the sweep.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "eof")
}
