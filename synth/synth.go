// Package synth builds the text context supplied with the next agent call.
//
// Synthesis is a pure function of (exchange history, strategy, config): it
// never reads the clock and never draws random numbers, so the same history
// always yields the same context. This is what makes replays and tests
// reproducible.
package synth

import (
	"sort"
	"strings"
	"text/template"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/internal/util"
)

// DefaultTemplate renders one exchange of the context.
const DefaultTemplate = `[round {{.Round}}] {{.From}} -> {{.To}}
Prompt: {{.Prompt}}
Response: {{.Response}}`

// Config selects and tunes a strategy.
type Config struct {
	Strategy core.Strategy
	// Window is the number of most recent exchanges used by StrategyRecent.
	Window int
	// Budget bounds the StrategyWeighted context, in characters.
	Budget int
	// Template renders one exchange; empty selects DefaultTemplate.
	Template string
	// Names maps agent ids onto display names used in the rendered context.
	Names map[string]string
}

// Synthesizer renders exchange history into context text.
type Synthesizer struct {
	cfg  Config
	tmpl *template.Template
}

// New validates cfg and compiles the exchange template.
func New(cfg Config) (*Synthesizer, error) {
	if !cfg.Strategy.Valid() {
		return nil, core.NewConfigurationError("context.strategy", "unknown strategy %q", cfg.Strategy)
	}
	if cfg.Strategy == core.StrategyRecent && cfg.Window < 1 {
		return nil, core.NewConfigurationError("context.window", "must be at least 1, got %d", cfg.Window)
	}
	if cfg.Strategy == core.StrategyWeighted && cfg.Budget < 1 {
		return nil, core.NewConfigurationError("context.budget", "must be at least 1, got %d", cfg.Budget)
	}
	text := cfg.Template
	if text == "" {
		text = DefaultTemplate
	}
	tmpl, err := util.ParseTemplate("exchange", text)
	if err != nil {
		return nil, core.NewConfigurationError("context.template", "%v", err)
	}
	return &Synthesizer{cfg: cfg, tmpl: tmpl}, nil
}

// Strategy returns the configured strategy.
func (s *Synthesizer) Strategy() core.Strategy { return s.cfg.Strategy }

// Synthesize returns the context for the given history with the memory block
// prepended. Failed exchanges are never part of the context.
func (s *Synthesizer) Synthesize(history []core.Exchange, memory string) string {
	selected := s.Select(history)
	blocks := make([]string, 0, len(selected)+1)
	if m := strings.TrimSpace(memory); m != "" {
		blocks = append(blocks, m)
	}
	for _, ex := range selected {
		blocks = append(blocks, s.render(ex))
	}
	return strings.Join(blocks, "\n\n")
}

// Select returns the exchanges the configured strategy keeps, oldest first.
func (s *Synthesizer) Select(history []core.Exchange) []core.Exchange {
	usable := make([]core.Exchange, 0, len(history))
	for _, ex := range history {
		if !ex.Failed() {
			usable = append(usable, ex)
		}
	}
	switch s.cfg.Strategy {
	case core.StrategyAll:
		return usable
	case core.StrategyWeighted:
		return s.weighted(usable)
	default:
		if len(usable) > s.cfg.Window {
			return usable[len(usable)-s.cfg.Window:]
		}
		return usable
	}
}

type exchangeView struct {
	core.Exchange
	FromName string
	ToName   string
}

func (s *Synthesizer) render(ex core.Exchange) string {
	view := exchangeView{Exchange: ex, FromName: s.name(ex.From), ToName: s.name(ex.To)}
	view.From, view.To = view.FromName, view.ToName
	out, err := util.Execute(s.tmpl, view)
	if err != nil {
		// A template that compiled but fails at runtime falls back to the raw response.
		return ex.Response
	}
	return out
}

func (s *Synthesizer) name(id string) string {
	if n, ok := s.cfg.Names[id]; ok && n != "" {
		return n
	}
	return id
}

type scored struct {
	index int
	score float64
	size  int
}

// weighted keeps the highest scoring exchanges that fit the budget. Scores
// combine recency (position in history) and importance. Ties prefer the more
// recent exchange so the ranking is total and deterministic.
func (s *Synthesizer) weighted(history []core.Exchange) []core.Exchange {
	n := len(history)
	if n == 0 {
		return history
	}
	ranked := make([]scored, n)
	for i, ex := range history {
		recency := float64(i+1) / float64(n)
		ranked[i] = scored{index: i, score: recency * Importance(ex), size: len(s.render(ex))}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].index > ranked[b].index
	})

	keep := make([]bool, n)
	used := 0
	for _, r := range ranked {
		if used+r.size > s.cfg.Budget {
			continue
		}
		keep[r.index] = true
		used += r.size
	}

	out := make([]core.Exchange, 0, n)
	for i, ex := range history {
		if keep[i] {
			out = append(out, ex)
		}
	}
	return out
}

// Importance weighs an exchange for the weighted strategy. Exchanges driven by
// an interjection count double; substantive responses earn up to half a point
// more, saturating at 1000 characters.
func Importance(ex core.Exchange) float64 {
	w := 1.0
	if ex.InterjectionID != "" {
		w += 1.0
	}
	length := float64(len(ex.Response))
	if length > 1000 {
		length = 1000
	}
	return w + 0.5*length/1000
}
