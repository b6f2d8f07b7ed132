package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userRequest(text string, stream bool) Request {
	return Request{Messages: []Message{{Role: RoleUser, Text: text}}, Stream: stream}
}

func TestMockModel_Streaming(t *testing.T) {
	m := NewMockModel("mock-1", "mock")
	m.AddResponse("hi", "hello there friend")

	var chunks []string
	resp, err := Collect(context.Background(), m, userRequest("hi", true), func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there friend", resp.Text)
	assert.Equal(t, []string{"hello ", "there ", "friend"}, chunks)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
}

func TestMockModel_RepliesAndFailures(t *testing.T) {
	m := NewMockModel("mock-1", "mock")
	m.AddReplies("one", "two")
	m.FailNext(errors.New("boom"))
	ctx := context.Background()

	_, err := Collect(ctx, m, userRequest("x", false), nil)
	assert.EqualError(t, err, "boom")

	resp, err := Collect(ctx, m, userRequest("x", false), nil)
	require.NoError(t, err)
	assert.Equal(t, "two", resp.Text, "replies advance with every call")
	assert.Equal(t, 2, m.Calls())

	_, err = Collect(ctx, m, Request{}, nil)
	assert.Error(t, err)
}

func TestMockModel_DefaultReply(t *testing.T) {
	m := NewMockModel("alice", "mock")
	resp, err := Collect(context.Background(), m, userRequest("x", false), nil)
	require.NoError(t, err)
	assert.Equal(t, "Mock response 1 from alice", resp.Text)
	assert.Equal(t, Info{Name: "alice", Provider: "mock"}, m.Info())
}
