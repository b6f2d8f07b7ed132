package interjection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colloquy/core"
)

func TestApply(t *testing.T) {
	tests := []struct {
		typ  core.InterjectionType
		text string
		want string
	}{
		{core.InterjectionSideQuestion, "why?", "base\n\n[Side question from the moderator: why?]"},
		{core.InterjectionCorrection, " it was 1969 ", "[Correction from the moderator: it was 1969]\n\nbase"},
		{core.InterjectionDirection, "be concise", "[Direction from the moderator: be concise]\n\nbase"},
		{core.InterjectionPause, "", "base"},
		{core.InterjectionResume, "back", "[The moderator resumed the conversation: back]\n\nbase"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got, err := Apply("base", core.Interjection{Type: tt.typ, Text: tt.text})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Apply("base", core.Interjection{Type: "shout"})
	assert.Error(t, err)
}

func TestApply_DoesNotEscape(t *testing.T) {
	got, err := Apply("x < y", core.Interjection{Type: core.InterjectionSideQuestion, Text: "a & b"})
	require.NoError(t, err)
	assert.Equal(t, "x < y\n\n[Side question from the moderator: a & b]", got)
}
