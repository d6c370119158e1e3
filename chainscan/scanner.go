package chainscan

import (
	"context"
	"fmt"
	"math/big"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ivedmohan/chainmate/registry"
)

// ContractCaller is the slice of the chain RPC client the scanner needs.
// *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Scanner enumerates escrow instances on one chain and filters them down to
// the ones awaiting resolution.
type Scanner struct {
	log    slog.Logger
	caller ContractCaller
	chain  registry.ChainConfig
}

func NewScanner(log slog.Logger, caller ContractCaller, chain registry.ChainConfig) *Scanner {
	return &Scanner{log: log, caller: caller, chain: chain}
}

// Count returns the factory's total number of deployed escrow instances.
func (s *Scanner) Count(ctx context.Context) (uint64, error) {
	data, err := factoryABI.Pack("escrowCount")
	if err != nil {
		return 0, fmt.Errorf("pack escrowCount: %w", err)
	}
	out, err := s.call(ctx, s.chain.Factory, data)
	if err != nil {
		return 0, fmt.Errorf("escrowCount: %w", err)
	}
	res, err := factoryABI.Unpack("escrowCount", out)
	if err != nil {
		return 0, fmt.Errorf("unpack escrowCount: %w", err)
	}
	return res[0].(*big.Int).Uint64(), nil
}

// Addresses returns every escrow instance address in the factory's insertion
// order.
func (s *Scanner) Addresses(ctx context.Context) ([]common.Address, error) {
	data, err := factoryABI.Pack("allEscrows")
	if err != nil {
		return nil, fmt.Errorf("pack allEscrows: %w", err)
	}
	out, err := s.call(ctx, s.chain.Factory, data)
	if err != nil {
		return nil, fmt.Errorf("allEscrows: %w", err)
	}
	res, err := factoryABI.Unpack("allEscrows", out)
	if err != nil {
		return nil, fmt.Errorf("unpack allEscrows: %w", err)
	}
	return res[0].([]common.Address), nil
}

// Instance reads the full on-chain projection of one escrow.
func (s *Scanner) Instance(ctx context.Context, addr common.Address) (*EscrowInstance, error) {
	data, err := escrowABI.Pack("details")
	if err != nil {
		return nil, fmt.Errorf("pack details: %w", err)
	}
	out, err := s.call(ctx, addr, data)
	if err != nil {
		return nil, fmt.Errorf("details %s: %w", addr, err)
	}
	var raw struct {
		Creator        common.Address
		Opponent       common.Address
		Token          common.Address
		Amount         *big.Int
		CreatorHandle  string
		OpponentHandle string
		GameId         string
		State          uint8
		Winner         common.Address
		CreatedAt      uint64
		FundedAt       uint64
		ExpiresAt      uint64
	}
	if err := escrowABI.UnpackIntoInterface(&raw, "details", out); err != nil {
		return nil, fmt.Errorf("unpack details %s: %w", addr, err)
	}
	return &EscrowInstance{
		Address:        addr,
		Creator:        raw.Creator,
		Opponent:       raw.Opponent,
		Token:          raw.Token,
		Amount:         raw.Amount,
		CreatorHandle:  raw.CreatorHandle,
		OpponentHandle: raw.OpponentHandle,
		GameID:         raw.GameId,
		State:          EscrowState(raw.State),
		Winner:         raw.Winner,
		CreatedAt:      raw.CreatedAt,
		FundedAt:       raw.FundedAt,
		ExpiresAt:      raw.ExpiresAt,
	}, nil
}

// Candidates returns, in factory order, the instances ready for resolution:
// state GameLinked with a non-empty game id. A per-address read failure
// skips that address for this sweep only; the next sweep retries it.
func (s *Scanner) Candidates(ctx context.Context) ([]*EscrowInstance, error) {
	addrs, err := s.Addresses(ctx)
	if err != nil {
		return nil, err
	}

	var out []*EscrowInstance
	for _, addr := range addrs {
		inst, err := s.Instance(ctx, addr)
		if err != nil {
			s.log.Warnf("scanner: %s: skipping escrow %s this sweep: %v", s.chain.Key, addr, err)
			continue
		}
		if inst.State != StateGameLinked {
			continue
		}
		if inst.GameID == "" {
			s.log.Debugf("scanner: %s: escrow %s gamelinked but no game id", s.chain.Key, addr)
			continue
		}
		out = append(out, inst)
	}
	s.log.Debugf("scanner: %s: %d escrow(s), %d candidate(s)", s.chain.Key, len(addrs), len(out))
	return out, nil
}

func (s *Scanner) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return s.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}
