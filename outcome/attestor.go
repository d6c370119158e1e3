package outcome

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/decred/slog"
)

var (
	// ErrBadSignature means the payload's signature does not verify against
	// the configured attester key.
	ErrBadSignature = errors.New("attestation signature invalid")

	// ErrStaleAttestation means the embedded timestamp is outside the
	// freshness window.
	ErrStaleAttestation = errors.New("attestation outside freshness window")

	// ErrMissingField means none of the known key aliases for a required
	// context field resolved. Fail closed; never guess.
	ErrMissingField = errors.New("attestation context field missing")

	// ErrAttestationNotFound means the provider has not issued an
	// attestation for the game yet.
	ErrAttestationNotFound = errors.New("attestation not found")
)

// Attestation is the decoded, verified provider claim about a game's result.
type Attestation struct {
	GameID      string
	WhiteHandle string
	BlackHandle string
	Result      ResultCode
	AttestedAt  time.Time
	Provenance  string
	RawPayload  []byte
	PayloadHash [32]byte
}

// Ref is a short stable reference to the attestation used in this
// settlement, suitable for logs and bookkeeping.
func (a *Attestation) Ref() string {
	return hex.EncodeToString(a.PayloadHash[:8])
}

// envelope is the provider's wire shape. The context object is kept raw so
// the signature can be verified over the exact bytes the provider signed.
type envelope struct {
	Context    json.RawMessage `json:"context"`
	AttestedAt int64           `json:"attested_at"`
	Provider   string          `json:"provider"`
	Sig        string          `json:"sig"`
}

// Field key aliases, in lookup order. The provider has emitted inconsistent
// and in one case misspelled keys across versions; tolerating the known set
// here is an upstream data-quality workaround, not a pattern to copy.
var (
	whiteAliases  = []string{"white", "whiteUsername", "wihteUsername", "white_username"}
	blackAliases  = []string{"black", "blackUsername", "black_username"}
	resultAliases = []string{"result", "resultNotation", "outcome"}
	gameIDAliases = []string{"gameId", "game_id", "id"}
)

// Attestor validates and decodes attestation payloads.
type Attestor struct {
	log    slog.Logger
	pub    *secp256k1.PublicKey
	window time.Duration

	now func() time.Time // for tests
}

func NewAttestor(log slog.Logger, pub *secp256k1.PublicKey, window time.Duration) *Attestor {
	return &Attestor{log: log, pub: pub, window: window, now: time.Now}
}

// Verify checks the payload's signature and freshness, then extracts the
// attested fields. The returned attestation is only produced when every
// check passes.
func (a *Attestor) Verify(payload []byte) (*Attestation, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode attestation envelope: %w", err)
	}
	if len(env.Context) == 0 {
		return nil, fmt.Errorf("%w: context", ErrMissingField)
	}

	sigB, err := hex.DecodeString(env.Sig)
	if err != nil || len(sigB) != 64 {
		return nil, fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sigB[:32]); overflow {
		return nil, fmt.Errorf("%w: r overflow", ErrBadSignature)
	}
	if overflow := s.SetByteSlice(sigB[32:]); overflow {
		return nil, fmt.Errorf("%w: s overflow", ErrBadSignature)
	}
	digest := signingDigest(env.Context, env.AttestedAt)
	if !ecdsa.NewSignature(&r, &s).Verify(digest[:], a.pub) {
		return nil, ErrBadSignature
	}

	attestedAt := time.Unix(env.AttestedAt, 0)
	age := a.now().Sub(attestedAt)
	if age > a.window || age < -a.window {
		return nil, fmt.Errorf("%w: attested %s ago (window %s)",
			ErrStaleAttestation, age, a.window)
	}

	var ctxFields map[string]any
	if err := json.Unmarshal(env.Context, &ctxFields); err != nil {
		return nil, fmt.Errorf("decode attestation context: %w", err)
	}
	white, err := firstAlias(ctxFields, whiteAliases, "white player")
	if err != nil {
		return nil, err
	}
	black, err := firstAlias(ctxFields, blackAliases, "black player")
	if err != nil {
		return nil, err
	}
	result, err := firstAlias(ctxFields, resultAliases, "result")
	if err != nil {
		return nil, err
	}
	gameID, err := firstAlias(ctxFields, gameIDAliases, "game id")
	if err != nil {
		return nil, err
	}

	return &Attestation{
		GameID:      gameID,
		WhiteHandle: white,
		BlackHandle: black,
		Result:      ParseResult(result),
		AttestedAt:  attestedAt,
		Provenance:  env.Provider,
		RawPayload:  append([]byte(nil), payload...),
		PayloadHash: sha256.Sum256(payload),
	}, nil
}

// signingDigest is the message the provider signs: the exact context bytes
// followed by the attestation timestamp, big-endian.
func signingDigest(contextBytes []byte, attestedAt int64) [32]byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(attestedAt))
	h := sha256.New()
	h.Write(contextBytes)
	h.Write(ts[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func firstAlias(fields map[string]any, aliases []string, what string) (string, error) {
	for _, k := range aliases {
		if v, ok := fields[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s (tried %v)", ErrMissingField, what, aliases)
}

// AttestClient fetches raw attestation payloads from the provider.
type AttestClient struct {
	log  slog.Logger
	base string
	hc   *http.Client
}

func NewAttestClient(log slog.Logger, baseURL string) *AttestClient {
	return &AttestClient{
		log:  log,
		base: baseURL,
		hc:   &http.Client{Timeout: sourceHTTPTimeout},
	}
}

// FetchPayload retrieves the opaque attestation payload for a game, with the
// same transient-retry policy as the game-data source.
func (c *AttestClient) FetchPayload(ctx context.Context, gameID string) ([]byte, error) {
	var payload []byte
	op := func() error {
		url := fmt.Sprintf("%s/attestation/%s", c.base, gameID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrAttestationNotFound, gameID))
		case http.StatusTooManyRequests:
			c.log.Debugf("attest: rate limited fetching %s; backing off", gameID)
			return fmt.Errorf("%w: %s", ErrRateLimited, gameID)
		default:
			if resp.StatusCode >= 500 {
				return fmt.Errorf("attest provider status %d", resp.StatusCode)
			}
			return backoff.Permanent(fmt.Errorf("attest provider status %d", resp.StatusCode))
		}
		payload, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(sourceInitialDelay)),
		sourceMaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return payload, nil
}
