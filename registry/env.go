package registry

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Environment variable surface. Per-chain values are keyed by the upper-cased
// chain key, e.g. CHAINMATE_BASE_RPC.
const (
	envPrefix = "CHAINMATE_"

	EnvChains          = envPrefix + "CHAINS"
	EnvOperatorKey     = envPrefix + "OPERATOR_KEY"
	EnvAttesterPubKey  = envPrefix + "ATTESTER_PUBKEY"
	EnvGameAPI         = envPrefix + "GAME_API"
	EnvAttestAPI       = envPrefix + "ATTEST_API"
	EnvSweepInterval   = envPrefix + "SWEEP_INTERVAL"
	EnvFreshnessWindow = envPrefix + "FRESHNESS_WINDOW"
)

// Getenv is the lookup used by FromEnv; os.Getenv in production, a map in
// tests.
type Getenv func(string) string

// FromEnv assembles registry Options from the environment. It only shapes
// the raw values; NewRegistry performs the actual validation and exclusion
// of half-configured chains.
func FromEnv(getenv Getenv) (Options, error) {
	var opts Options

	keys := strings.Split(getenv(EnvChains), ",")
	for _, k := range keys {
		k = strings.TrimSpace(strings.ToLower(k))
		if k == "" {
			continue
		}
		up := strings.ToUpper(k)
		cfg := ChainConfig{
			Key:    k,
			Name:   knownChainNames[k],
			RPCURL: getenv(envPrefix + up + "_RPC"),
		}
		if v := getenv(envPrefix + up + "_FACTORY"); v != "" {
			if !common.IsHexAddress(v) {
				return opts, fmt.Errorf("chain %q: bad factory address %q", k, v)
			}
			cfg.Factory = common.HexToAddress(v)
		}
		if v := getenv(envPrefix + up + "_VERIFIER"); v != "" {
			if !common.IsHexAddress(v) {
				return opts, fmt.Errorf("chain %q: bad verifier address %q", k, v)
			}
			cfg.Verifier = common.HexToAddress(v)
		}
		if v := getenv(envPrefix + up + "_CHAIN_ID"); v != "" {
			id, ok := new(big.Int).SetString(v, 10)
			if !ok {
				return opts, fmt.Errorf("chain %q: bad chain id %q", k, v)
			}
			cfg.ChainID = id
		} else if id, ok := knownChainIDs[k]; ok {
			cfg.ChainID = big.NewInt(id)
		}
		opts.Chains = append(opts.Chains, cfg)
	}

	opts.OperatorKeyHex = getenv(EnvOperatorKey)
	opts.AttesterPubHex = getenv(EnvAttesterPubKey)

	if v := getenv(EnvSweepInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return opts, fmt.Errorf("bad %s: %w", EnvSweepInterval, err)
		}
		opts.SweepInterval = d
	}
	if v := getenv(EnvFreshnessWindow); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return opts, fmt.Errorf("bad %s: %w", EnvFreshnessWindow, err)
		}
		opts.FreshnessWindow = d
	}
	return opts, nil
}
