package chainscan

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EscrowState mirrors the escrow contract's state enum. States only advance
// forward along Created..Settled once entered; Cancelled and Disputed are
// side branches reachable from the early states.
type EscrowState uint8

const (
	StateCreated EscrowState = iota
	StateFunded
	StateGameLinked
	StateCompleted
	StateSettled
	StateCancelled
	StateDisputed
)

func (s EscrowState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateFunded:
		return "funded"
	case StateGameLinked:
		return "gamelinked"
	case StateCompleted:
		return "completed"
	case StateSettled:
		return "settled"
	case StateCancelled:
		return "cancelled"
	case StateDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// EscrowInstance is a read-only projection of one deployed escrow contract.
type EscrowInstance struct {
	Address        common.Address
	Creator        common.Address
	Opponent       common.Address
	Token          common.Address
	Amount         *big.Int
	CreatorHandle  string
	OpponentHandle string
	GameID         string
	State          EscrowState
	Winner         common.Address
	CreatedAt      uint64
	FundedAt       uint64
	ExpiresAt      uint64
}
