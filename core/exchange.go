package core

import "time"

// Exchange is one recorded prompt/response pair attributed to (From, To)
// within a round. Exchanges are immutable once appended to a recorder.
//
// A failed turn is recorded as an Exchange with Error set and an empty
// Response; it still occupies its (Round, Turn) slot.
type Exchange struct {
	ID             string        `json:"id"`
	Round          int           `json:"round"`
	Turn           int           `json:"turn"`
	From           string        `json:"from"`
	To             string        `json:"to"`
	Prompt         string        `json:"prompt"`
	Response       string        `json:"response"`
	Timestamp      time.Time     `json:"timestamp"`
	Duration       time.Duration `json:"duration"`
	TokenCount     *int          `json:"token_count,omitempty"`
	InterjectionID string        `json:"interjection_id,omitempty"`
	Attempts       int           `json:"attempts,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Failed reports whether the exchange records a failed agent call.
func (e Exchange) Failed() bool { return e.Error != "" }

// Before reports whether e is ordered strictly before other by (Round, Turn).
func (e Exchange) Before(other Exchange) bool {
	if e.Round != other.Round {
		return e.Round < other.Round
	}
	return e.Turn < other.Turn
}

// Clone returns a copy that shares no pointers with e.
func (e Exchange) Clone() Exchange {
	c := e
	if e.TokenCount != nil {
		n := *e.TokenCount
		c.TokenCount = &n
	}
	return c
}

// CloneExchanges deep copies a slice of exchanges. A nil input yields an
// empty, non-nil slice.
func CloneExchanges(in []Exchange) []Exchange {
	out := make([]Exchange, len(in))
	for i, ex := range in {
		out[i] = ex.Clone()
	}
	return out
}
