package testutil

import (
	"strconv"
	"time"

	"github.com/hupe1980/colloquy/core"
)

// Epoch is the base timestamp of builder generated exchanges.
var Epoch = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

// ExchangeBuilder provides a fluent helper for constructing exchanges in tests.
// Example:
//
//	ex := NewExchangeBuilder().Position(1, 0).Between("a", "b").Response("hi").Build()
//
// Chain only the parts you need; deterministic defaults are applied.
type ExchangeBuilder struct {
	ex core.Exchange
}

// NewExchangeBuilder creates a builder for a round 0, turn 0 exchange.
func NewExchangeBuilder() *ExchangeBuilder {
	return &ExchangeBuilder{ex: core.Exchange{From: "agent1", To: "agent2", Attempts: 1}}
}

// ID overrides the generated id (chainable).
func (b *ExchangeBuilder) ID(id string) *ExchangeBuilder { b.ex.ID = id; return b }

// Position sets round and turn (chainable).
func (b *ExchangeBuilder) Position(round, turn int) *ExchangeBuilder {
	b.ex.Round, b.ex.Turn = round, turn
	return b
}

// Between sets speaker and addressee (chainable).
func (b *ExchangeBuilder) Between(from, to string) *ExchangeBuilder {
	b.ex.From, b.ex.To = from, to
	return b
}

// Prompt sets the prompt text (chainable).
func (b *ExchangeBuilder) Prompt(p string) *ExchangeBuilder { b.ex.Prompt = p; return b }

// Response sets the response text (chainable).
func (b *ExchangeBuilder) Response(r string) *ExchangeBuilder { b.ex.Response = r; return b }

// At sets the timestamp (chainable).
func (b *ExchangeBuilder) At(ts time.Time) *ExchangeBuilder { b.ex.Timestamp = ts; return b }

// Took sets the call duration (chainable).
func (b *ExchangeBuilder) Took(d time.Duration) *ExchangeBuilder { b.ex.Duration = d; return b }

// Tokens sets the token count (chainable).
func (b *ExchangeBuilder) Tokens(n int) *ExchangeBuilder { b.ex.TokenCount = &n; return b }

// Interjection links the exchange to an interjection id (chainable).
func (b *ExchangeBuilder) Interjection(id string) *ExchangeBuilder {
	b.ex.InterjectionID = id
	return b
}

// Failed marks the exchange as a failed call (chainable).
func (b *ExchangeBuilder) Failed(msg string) *ExchangeBuilder {
	b.ex.Error = msg
	b.ex.Response = ""
	return b
}

// Build returns the exchange. Unset ids and timestamps get deterministic values
// derived from the position.
func (b *ExchangeBuilder) Build() core.Exchange {
	ex := b.ex.Clone()
	if ex.ID == "" {
		ex.ID = core.NewID()
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = Epoch.Add(time.Duration(ex.Round)*time.Minute + time.Duration(ex.Turn)*time.Second)
	}
	return ex
}

// Conversation builds n alternating exchanges between two agents with rounds
// and turns following the pairwise schedule.
func Conversation(a, b string, n int) []core.Exchange {
	out := make([]core.Exchange, n)
	for i := range out {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		out[i] = NewExchangeBuilder().
			Position(i/2, i%2).
			Between(from, to).
			Prompt("prompt " + strconv.Itoa(i)).
			Response("response " + strconv.Itoa(i)).
			Took(time.Duration(i+1) * time.Millisecond).
			Build()
	}
	return out
}
