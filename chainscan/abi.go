package chainscan

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const factoryABIJSON = `[
{"name":"escrowCount","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"name":"allEscrows","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]}
]`

const escrowABIJSON = `[
{"name":"details","type":"function","stateMutability":"view","inputs":[],"outputs":[
{"name":"creator","type":"address"},
{"name":"opponent","type":"address"},
{"name":"token","type":"address"},
{"name":"amount","type":"uint256"},
{"name":"creatorHandle","type":"string"},
{"name":"opponentHandle","type":"string"},
{"name":"gameId","type":"string"},
{"name":"state","type":"uint8"},
{"name":"winner","type":"address"},
{"name":"createdAt","type":"uint64"},
{"name":"fundedAt","type":"uint64"},
{"name":"expiresAt","type":"uint64"}]}
]`

var (
	factoryABI = mustABI(factoryABIJSON)
	escrowABI  = mustABI(escrowABIJSON)
)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}
