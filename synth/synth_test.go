package synth

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/internal/testutil"
)

func history(n int) []core.Exchange {
	out := make([]core.Exchange, n)
	for i := range out {
		from, to := "agent1", "agent2"
		if i%2 == 1 {
			from, to = to, from
		}
		out[i] = testutil.NewExchangeBuilder().
			Position(i/2, i%2).
			Between(from, to).
			Prompt(fmt.Sprintf("prompt %d", i)).
			Response(fmt.Sprintf("response %d", i)).
			Build()
	}
	return out
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown strategy", Config{Strategy: "random"}},
		{"recent without window", Config{Strategy: core.StrategyRecent}},
		{"weighted without budget", Config{Strategy: core.StrategyWeighted}},
		{"broken template", Config{Strategy: core.StrategyAll, Template: "{{.Round"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			var cfgErr *core.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
		})
	}
}

func TestRecent_DependsOnlyOnLastK(t *testing.T) {
	s, err := New(Config{Strategy: core.StrategyRecent, Window: 3})
	require.NoError(t, err)

	base := history(10)
	want := s.Synthesize(base, "")

	// Prepending arbitrary older history must not change the context.
	older := append(history(25)[:15:15], base...)
	assert.Equal(t, want, s.Synthesize(older, ""))

	assert.Contains(t, want, "response 7")
	assert.Contains(t, want, "response 9")
	assert.NotContains(t, want, "response 6")
	assert.Less(t, strings.Index(want, "response 7"), strings.Index(want, "response 9"), "oldest first")
}

func TestAll_UsesEntireHistoryAndSkipsFailures(t *testing.T) {
	s, err := New(Config{Strategy: core.StrategyAll})
	require.NoError(t, err)

	h := history(4)
	h[1].Error = "timeout"
	h[1].Response = ""

	selected := s.Select(h)
	require.Len(t, selected, 3)
	assert.Equal(t, []int{0, 1, 1}, []int{selected[0].Round, selected[1].Round, selected[2].Round})
	assert.Equal(t, []int{0, 0, 1}, []int{selected[0].Turn, selected[1].Turn, selected[2].Turn})
}

func TestWeighted_DeterministicAndBounded(t *testing.T) {
	s, err := New(Config{Strategy: core.StrategyWeighted, Budget: 200, Template: "{{.From}}: {{.Response}}"})
	require.NoError(t, err)

	h := history(20)
	h[2].InterjectionID = "int-1"
	h[2].Response = strings.Repeat("x", 40)

	first := s.Synthesize(h, "")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Synthesize(h, ""))
	}
	assert.LessOrEqual(t, len(first), 200+len(h)*2, "rendered blocks stay within budget plus separators")
	assert.Contains(t, first, "response 19", "most recent exchange is kept")

	selected := s.Select(h)
	for i := 1; i < len(selected); i++ {
		assert.True(t, selected[i-1].Before(selected[i]), "selection is chronological")
	}
}

func TestImportance(t *testing.T) {
	plain := core.Exchange{Response: "ok"}
	driven := core.Exchange{Response: "ok", InterjectionID: "i"}
	long := core.Exchange{Response: strings.Repeat("a", 5000)}

	assert.Greater(t, Importance(driven), Importance(plain))
	assert.InDelta(t, 1.5, Importance(long), 1e-9)
}

func TestSynthesize_MemoryAndNames(t *testing.T) {
	s, err := New(Config{
		Strategy: core.StrategyRecent,
		Window:   1,
		Template: "{{.From}} said {{.Response}}",
		Names:    map[string]string{"agent2": "Bob"},
	})
	require.NoError(t, err)

	h := history(2)
	out := s.Synthesize(h, "  remember: be brief  ")
	assert.Equal(t, "remember: be brief\n\nBob said response 1", out)

	assert.Equal(t, "", s.Synthesize(nil, ""))
}
