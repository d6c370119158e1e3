package outcome

import (
	"strings"
	"time"
)

// ResultCode is the engine's canonical game result.
type ResultCode int

const (
	ResultUnknown ResultCode = iota
	ResultWhiteWin
	ResultBlackWin
	ResultDraw
)

func (r ResultCode) String() string {
	switch r {
	case ResultWhiteWin:
		return "whitewin"
	case ResultBlackWin:
		return "blackwin"
	case ResultDraw:
		return "draw"
	default:
		return "unknown"
	}
}

// ParseResult maps the provider's compact result notation to a ResultCode.
// Both the score notation and the verbal form are in the wild, depending on
// provider endpoint version. Anything unrecognized is Unknown, which is a
// valid value that defers settlement rather than an error.
func ParseResult(notation string) ResultCode {
	switch strings.TrimSpace(notation) {
	case "1-0", "White wins":
		return ResultWhiteWin
	case "0-1", "Black wins":
		return ResultBlackWin
	case "1/2-1/2", "draw":
		return ResultDraw
	default:
		return ResultUnknown
	}
}

// RawOutcome is the untrusted result fetched from the game-data provider.
type RawOutcome struct {
	GameID      string
	WhiteHandle string
	BlackHandle string
	Result      ResultCode
	ObservedAt  time.Time
}
