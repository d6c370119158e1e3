package registry

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChainConfig describes one supported chain. Immutable after load; the
// registry hands out copies, never pointers into its own slice.
type ChainConfig struct {
	Key      string // short config key, e.g. "base"
	Name     string // display name
	ChainID  *big.Int
	RPCURL   string
	Factory  common.Address // escrow factory
	Verifier common.Address // resolution verifier
}

// knownChainIDs maps chain keys to their canonical numeric IDs so configs
// only need an explicit CHAIN_ID for chains we have not seen before.
var knownChainIDs = map[string]int64{
	"ethereum": 1,
	"sepolia":  11155111,
	"base":     8453,
	"basesep":  84532,
	"polygon":  137,
	"amoy":     80002,
	"arbitrum": 42161,
	"optimism": 10,
}

var knownChainNames = map[string]string{
	"ethereum": "Ethereum",
	"sepolia":  "Sepolia",
	"base":     "Base",
	"basesep":  "Base Sepolia",
	"polygon":  "Polygon",
	"amoy":     "Polygon Amoy",
	"arbitrum": "Arbitrum One",
	"optimism": "OP Mainnet",
}

// Registry is the one place chain configuration and the operator identity
// live. Built once at startup and passed by reference into every component;
// read-only after construction so it is safe for concurrent use.
type Registry struct {
	chains []ChainConfig

	operator     *ecdsa.PrivateKey
	operatorAddr common.Address

	attester *secp256k1.PublicKey

	sweepInterval   time.Duration
	freshnessWindow time.Duration
}

// Options carries the raw, environment-derived inputs for NewRegistry.
// Chains with any of RPC/Factory/Verifier missing are excluded rather than
// partially activated; a chain that cannot be resolved must not be swept.
type Options struct {
	Chains          []ChainConfig
	OperatorKeyHex  string
	AttesterPubHex  string
	SweepInterval   time.Duration
	FreshnessWindow time.Duration
}

const (
	defaultSweepInterval   = time.Minute
	defaultFreshnessWindow = time.Hour
)

func NewRegistry(log slog.Logger, opts Options) (*Registry, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.OperatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bad operator key: %w", err)
	}

	attesterB, err := decodeHex(opts.AttesterPubHex)
	if err != nil {
		return nil, fmt.Errorf("bad attester pubkey: %w", err)
	}
	attester, err := secp256k1.ParsePubKey(attesterB)
	if err != nil {
		return nil, fmt.Errorf("parse attester pubkey: %w", err)
	}

	r := &Registry{
		operator:        key,
		operatorAddr:    crypto.PubkeyToAddress(key.PublicKey),
		attester:        attester,
		sweepInterval:   opts.SweepInterval,
		freshnessWindow: opts.FreshnessWindow,
	}
	if r.sweepInterval <= 0 {
		r.sweepInterval = defaultSweepInterval
	}
	if r.freshnessWindow <= 0 {
		r.freshnessWindow = defaultFreshnessWindow
	}

	for _, c := range opts.Chains {
		if c.RPCURL == "" || c.Factory == (common.Address{}) || c.Verifier == (common.Address{}) {
			log.Warnf("registry: chain %q incompletely configured; excluding", c.Key)
			continue
		}
		if c.ChainID == nil || c.ChainID.Sign() <= 0 {
			return nil, fmt.Errorf("chain %q: missing chain id", c.Key)
		}
		if c.Name == "" {
			c.Name = c.Key
		}
		r.chains = append(r.chains, c)
	}
	if len(r.chains) == 0 {
		return nil, fmt.Errorf("no fully configured chains")
	}

	log.Infof("registry: %d chain(s) configured, operator=%s", len(r.chains), r.operatorAddr)
	return r, nil
}

// Chains returns the configured chains in configuration order.
func (r *Registry) Chains() []ChainConfig {
	out := make([]ChainConfig, len(r.chains))
	copy(out, r.chains)
	return out
}

// Operator returns the shared signing credential. One operator identity,
// many chains; each chain's send path owns its nonce space exclusively.
func (r *Registry) Operator() *ecdsa.PrivateKey { return r.operator }

func (r *Registry) OperatorAddress() common.Address { return r.operatorAddr }

// AttesterPubKey returns the attestation provider's signing key.
func (r *Registry) AttesterPubKey() *secp256k1.PublicKey { return r.attester }

func (r *Registry) SweepInterval() time.Duration { return r.sweepInterval }

func (r *Registry) FreshnessWindow() time.Duration { return r.freshnessWindow }

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, fmt.Errorf("empty hex string")
	}
	b := common.FromHex("0x" + s)
	if len(b) == 0 {
		return nil, fmt.Errorf("invalid hex string")
	}
	return b, nil
}
