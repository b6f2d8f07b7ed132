package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colloquy/model"
)

var _ model.Model = (*Model)(nil)

func TestBuildMessages_DropsEmpty(t *testing.T) {
	msgs := buildMessages([]model.Message{
		{Role: model.RoleUser, Text: "hi"},
		{Role: model.RoleAssistant, Text: ""},
		{Role: model.RoleAssistant, Text: "hello"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
}

func TestModel_NonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"hello "},{"type":"text","text":"there"}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	client := anthropic.NewClient(option.WithAPIKey("test"), option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	m := NewModelFromClient(&client)

	resp, err := model.Collect(context.Background(), m, model.Request{
		Instructions: "be brief",
		Messages:     []model.Message{{Role: model.RoleUser, Text: "hi"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, "end_turn", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Equal(t, "anthropic", m.Info().Provider)
}
