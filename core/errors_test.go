package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorCode(t *testing.T) {
	cases := map[string]error{
		CodeConfiguration: fmt.Errorf("wrapped: %w", NewConfigurationError("target", "unknown agent %q", "x")),
		CodeReplay:        &ReplayError{SessionID: "s1", Message: "corrupt snapshot"},
		CodeAgentCall:     NewAgentCallError("agent1", 1, errors.New("boom")),
		CodeNotFound:      fmt.Errorf("dialogue d1: %w", ErrNotFound),
		CodeConflict:      ErrStopped,
		CodeInternal:      errors.New("other"),
	}
	for want, err := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %s, want %s", err, got, want)
		}
	}
}

func TestAgentCallError_Classification(t *testing.T) {
	timeout := NewAgentCallError("a", 2, fmt.Errorf("send: %w", context.DeadlineExceeded))
	if timeout.Kind != AgentCallTimeout {
		t.Fatalf("expected timeout kind, got %s", timeout.Kind)
	}
	if !errors.Is(timeout, context.DeadlineExceeded) {
		t.Fatal("AgentCallError should unwrap to its cause")
	}
	platform := NewAgentCallError("a", 1, errors.New("500 from upstream"))
	if platform.Kind != AgentCallPlatform {
		t.Fatalf("expected platform kind, got %s", platform.Kind)
	}
}

func TestResult(t *testing.T) {
	ok := OK(map[string]int{"n": 1})
	if !ok.Success || ok.Error != nil || ok.Err() != nil {
		t.Fatalf("unexpected OK result: %+v", ok)
	}
	fail := Fail(NewConfigurationError("strategy", "unknown strategy %q", "x"))
	if fail.Success || fail.Error == nil || fail.Error.Code != CodeConfiguration {
		t.Fatalf("unexpected failed result: %+v", fail)
	}
	if fail.Err() == nil {
		t.Fatal("failed result should expose an error")
	}
}

func TestExchange_OrderingAndClone(t *testing.T) {
	n := 12
	a := Exchange{Round: 0, Turn: 1, TokenCount: &n}
	b := Exchange{Round: 1, Turn: 0}
	if !a.Before(b) || b.Before(a) || a.Before(a) {
		t.Fatal("exchanges should order by (round, turn)")
	}
	c := a.Clone()
	*c.TokenCount = 99
	if *a.TokenCount != 12 {
		t.Fatal("Clone must not share the token count pointer")
	}
}

func TestInterjection_Matches(t *testing.T) {
	in := Interjection{Target: TargetBoth}
	if !in.Matches("agent1") || !in.Matches("agent2") {
		t.Fatal("broadcast interjection should match every agent")
	}
	in.Target = "agent1"
	if in.Matches("agent2") {
		t.Fatal("targeted interjection should only match its target")
	}
	if PriorityHigh.Rank() <= PriorityMedium.Rank() || PriorityMedium.Rank() <= PriorityLow.Rank() {
		t.Fatal("priority ranks out of order")
	}
}
