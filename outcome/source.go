package outcome

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/decred/slog"
)

var (
	// ErrGameNotFound means the provider has no record of the game yet. Not
	// retryable within a sweep; the game may simply still be in progress.
	ErrGameNotFound = errors.New("game not found")

	// ErrRateLimited means the provider throttled us; retryable with backoff.
	ErrRateLimited = errors.New("provider rate limited")
)

const (
	sourceMaxRetries   = 3
	sourceHTTPTimeout  = 15 * time.Second
	sourceInitialDelay = 500 * time.Millisecond
)

// Source fetches raw, untrusted game results from the external game-data
// provider.
type Source struct {
	log  slog.Logger
	base string
	hc   *http.Client
}

func NewSource(log slog.Logger, baseURL string) *Source {
	return &Source{
		log:  log,
		base: baseURL,
		hc:   &http.Client{Timeout: sourceHTTPTimeout},
	}
}

// gameDoc is the provider's wire shape for fetch-game-by-id.
type gameDoc struct {
	ID      string `json:"id"`
	White   string `json:"white"`
	Black   string `json:"black"`
	Result  string `json:"result"`
	EndedAt int64  `json:"endedAt"`
}

// FetchGame retrieves the game result, retrying transient failures (rate
// limits, timeouts) with bounded exponential backoff. Not-found and malformed
// responses are permanent for this sweep.
func (s *Source) FetchGame(ctx context.Context, gameID string) (*RawOutcome, error) {
	var doc gameDoc

	op := func() error {
		err := s.fetchOnce(ctx, gameID, &doc)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrGameNotFound):
			return backoff.Permanent(err)
		case errors.Is(err, ErrRateLimited):
			s.log.Debugf("source: rate limited fetching game %s; backing off", gameID)
			return err
		default:
			// Network timeouts and 5xx are retryable.
			s.log.Debugf("source: transient error fetching game %s: %v", gameID, err)
			return err
		}
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(sourceInitialDelay)),
		sourceMaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}

	return &RawOutcome{
		GameID:      doc.ID,
		WhiteHandle: doc.White,
		BlackHandle: doc.Black,
		Result:      ParseResult(doc.Result),
		ObservedAt:  time.Now(),
	}, nil
}

func (s *Source) fetchOnce(ctx context.Context, gameID string, doc *gameDoc) error {
	url := fmt.Sprintf("%s/game/%s", s.base, gameID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, gameID)
	default:
		if resp.StatusCode >= 500 {
			return fmt.Errorf("provider status %d", resp.StatusCode)
		}
		return backoff.Permanent(fmt.Errorf("provider status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, doc); err != nil {
		return backoff.Permanent(fmt.Errorf("decode game %s: %w", gameID, err))
	}
	if doc.ID == "" {
		doc.ID = gameID
	}
	return nil
}
