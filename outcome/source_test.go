package outcome

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/decred/slog"
)

func TestFetchGameOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/game/abc123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":"abc123","white":"alice","black":"bob","result":"1-0","endedAt":1700000000}`)
	}))
	defer srv.Close()

	raw, err := NewSource(slog.Disabled, srv.URL).FetchGame(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("FetchGame: %v", err)
	}
	if raw.GameID != "abc123" || raw.WhiteHandle != "alice" || raw.BlackHandle != "bob" {
		t.Fatalf("bad outcome: %+v", raw)
	}
	if raw.Result != ResultWhiteWin {
		t.Fatalf("want whitewin, got %s", raw.Result)
	}
}

func TestFetchGameNotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewSource(slog.Disabled, srv.URL).FetchGame(context.Background(), "missing")
	if !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("want ErrGameNotFound, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("not found must not retry; got %d hits", hits.Load())
	}
}

func TestFetchGameRetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"id":"g1","white":"alice","black":"bob","result":"draw"}`)
	}))
	defer srv.Close()

	raw, err := NewSource(slog.Disabled, srv.URL).FetchGame(context.Background(), "g1")
	if err != nil {
		t.Fatalf("FetchGame: %v", err)
	}
	if raw.Result != ResultDraw {
		t.Fatalf("want draw, got %s", raw.Result)
	}
	if hits.Load() != 2 {
		t.Fatalf("want 2 hits (one retry), got %d", hits.Load())
	}
}

func TestFetchGameUnknownResultIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"g2","white":"alice","black":"bob","result":"*"}`)
	}))
	defer srv.Close()

	raw, err := NewSource(slog.Disabled, srv.URL).FetchGame(context.Background(), "g2")
	if err != nil {
		t.Fatalf("FetchGame: %v", err)
	}
	// Unknown defers settlement; it never raises.
	if raw.Result != ResultUnknown {
		t.Fatalf("want unknown, got %s", raw.Result)
	}
}
