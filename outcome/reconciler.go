package outcome

import (
	"errors"
	"fmt"
	"strings"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ivedmohan/chainmate/chainscan"
)

var (
	// ErrResultMismatch means the untrusted source and the attested source
	// disagree about the game result. Possible manipulation; never settled.
	ErrResultMismatch = errors.New("raw outcome and attestation disagree")

	// ErrGameIDMismatch means the inputs are not about the same game.
	ErrGameIDMismatch = errors.New("game id mismatch")

	// ErrParticipantMismatch means the attested handles match the escrow's
	// parties in neither color assignment.
	ErrParticipantMismatch = errors.New("participant handles do not match escrow")

	// ErrAmbiguousHandles means a handle matches both parties, so the winner
	// cannot be derived unambiguously. Rejecting is a safety property.
	ErrAmbiguousHandles = errors.New("ambiguous participant handles")

	// ErrUnresolvedResult means the agreed result is Unknown; settlement is
	// deferred to a later sweep.
	ErrUnresolvedResult = errors.New("result not yet resolved")
)

// ReconciledOutcome is the single, final decision for one escrow in one
// sweep. A zero Winner address means draw: the contract performs a
// refund-style settlement for the zero-address sentinel.
type ReconciledOutcome struct {
	Escrow         common.Address
	Winner         common.Address
	Result         ResultCode
	AttestationRef string
}

// Reconciler derives the winning address from the raw outcome and the
// attestation. It is the single authoritative implementation of the
// handle-matching and tie-break rules.
type Reconciler struct {
	log slog.Logger
}

func NewReconciler(log slog.Logger) *Reconciler {
	return &Reconciler{log: log}
}

// Reconcile validates that the untrusted and attested results agree, matches
// the attested handles against the escrow's parties, and maps the result to
// a winner. Pure with respect to its inputs; any rejection is returned as a
// typed error and logged as a validation mismatch where it indicates
// possible manipulation.
func (r *Reconciler) Reconcile(inst *chainscan.EscrowInstance, raw *RawOutcome, att *Attestation) (*ReconciledOutcome, error) {
	if raw.GameID != inst.GameID || att.GameID != inst.GameID {
		return nil, fmt.Errorf("%w: escrow=%s raw=%s att=%s",
			ErrGameIDMismatch, inst.GameID, raw.GameID, att.GameID)
	}

	if raw.Result != att.Result {
		r.log.Errorf("reconcile: VALIDATION MISMATCH escrow=%s game=%s raw=%s attested=%s",
			inst.Address, inst.GameID, raw.Result, att.Result)
		return nil, fmt.Errorf("%w: raw=%s attested=%s", ErrResultMismatch, raw.Result, att.Result)
	}

	whiteAddr, blackAddr, err := assignColors(inst, att.WhiteHandle, att.BlackHandle)
	if err != nil {
		r.log.Errorf("reconcile: VALIDATION MISMATCH escrow=%s game=%s white=%q black=%q creator=%q opponent=%q: %v",
			inst.Address, inst.GameID, att.WhiteHandle, att.BlackHandle,
			inst.CreatorHandle, inst.OpponentHandle, err)
		return nil, err
	}

	out := &ReconciledOutcome{
		Escrow:         inst.Address,
		Result:         att.Result,
		AttestationRef: att.Ref(),
	}
	switch att.Result {
	case ResultWhiteWin:
		out.Winner = whiteAddr
	case ResultBlackWin:
		out.Winner = blackAddr
	case ResultDraw:
		// Zero address: no winner, refund-style settlement.
	default:
		return nil, fmt.Errorf("%w: game=%s", ErrUnresolvedResult, inst.GameID)
	}
	return out, nil
}

// assignColors matches {white, black} against {creator, opponent} in either
// color assignment. The creator may have played either color; a handle that
// matches both parties is rejected as ambiguous rather than guessed at.
func assignColors(inst *chainscan.EscrowInstance, white, black string) (whiteAddr, blackAddr common.Address, err error) {
	creatorIsWhite := handlesEqual(inst.CreatorHandle, white) && handlesEqual(inst.OpponentHandle, black)
	creatorIsBlack := handlesEqual(inst.CreatorHandle, black) && handlesEqual(inst.OpponentHandle, white)

	switch {
	case creatorIsWhite && creatorIsBlack:
		return common.Address{}, common.Address{}, ErrAmbiguousHandles
	case creatorIsWhite:
		return inst.Creator, inst.Opponent, nil
	case creatorIsBlack:
		return inst.Opponent, inst.Creator, nil
	default:
		return common.Address{}, common.Address{}, ErrParticipantMismatch
	}
}

func handlesEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
