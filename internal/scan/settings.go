package scan

import (
	"fmt"
	"time"
)

// CallbackType selects which matches a client is told about.
type CallbackType int

const (
	CallbackAllMatches CallbackType = iota
	CallbackFirstMatch
	CallbackMatchLost
	CallbackFirstMatchAndLost
)

func (c CallbackType) String() string {
	switch c {
	case CallbackAllMatches:
		return "all_matches"
	case CallbackFirstMatch:
		return "first_match"
	case CallbackMatchLost:
		return "match_lost"
	case CallbackFirstMatchAndLost:
		return "first_match_and_lost"
	default:
		return fmt.Sprintf("callback(%d)", int(c))
	}
}

// TracksMatches reports whether the callback type needs found/lost trackers in the controller.
func (c CallbackType) TracksMatches() bool {
	return c != CallbackAllMatches
}

// ResultType selects which batch report flavor a batch client consumes.
type ResultType int

const (
	ResultFull ResultType = iota
	ResultTruncated
	ResultBoth
)

func (r ResultType) String() string {
	switch r {
	case ResultFull:
		return "full"
	case ResultTruncated:
		return "truncated"
	case ResultBoth:
		return "both"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// WantsFull reports whether r includes full reports.
func (r ResultType) WantsFull() bool { return r == ResultFull || r == ResultBoth }

// WantsTruncated reports whether r includes truncated reports.
func (r ResultType) WantsTruncated() bool { return r == ResultTruncated || r == ResultBoth }

// MatchNum bounds how many advertisements per filter the controller tracks.
type MatchNum int

const (
	MatchOne MatchNum = iota
	MatchFew
	MatchMax
)

// Trackers returns the number of tracking entries one filter consumes out of total.
func (n MatchNum) Trackers(total int) int {
	switch n {
	case MatchFew:
		return 2
	case MatchMax:
		return total / 2
	default:
		return 1
	}
}

// Settings is an immutable scan configuration. Use WithMode to derive a changed copy.
type Settings struct {
	Mode         Mode
	CallbackType CallbackType
	ReportDelay  time.Duration
	ResultType   ResultType
	MatchNum     MatchNum
}

// WithMode returns a copy of s running in mode m.
func (s Settings) WithMode(m Mode) Settings {
	s.Mode = m
	return s
}

// IsBatch reports whether results are buffered in the controller and delivered periodically.
func (s Settings) IsBatch() bool {
	return s.ReportDelay > 0 && s.CallbackType == CallbackAllMatches
}
