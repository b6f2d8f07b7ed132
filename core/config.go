package core

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that marshals as a Go duration string ("1.5s")
// in both YAML and JSON documents.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DurationOf returns a pointer to d for optional duration options.
func DurationOf(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// Int returns a pointer to n for optional integer options.
func Int(n int) *int { return &n }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// DialogueType selects the scheduling policy.
type DialogueType string

const (
	DialoguePairwise   DialogueType = "pairwise"
	DialogueRoundRobin DialogueType = "round_robin"
)

// Strategy selects how the context of the next prompt is synthesized.
type Strategy string

const (
	StrategyRecent   Strategy = "recent"
	StrategyAll      Strategy = "all"
	StrategyWeighted Strategy = "weighted"
)

// Valid reports whether s is a recognized strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRecent, StrategyAll, StrategyWeighted:
		return true
	}
	return false
}

// FailurePolicy decides what the scheduler does when an agent call fails.
type FailurePolicy string

const (
	FailureRetry FailurePolicy = "retry"
	FailureSkip  FailurePolicy = "skip"
	FailureHalt  FailurePolicy = "halt"
)

// Valid reports whether p is a recognized failure policy.
func (p FailurePolicy) Valid() bool {
	switch p {
	case FailureRetry, FailureSkip, FailureHalt:
		return true
	}
	return false
}

// Defaults applied by DialogueConfig.ApplyDefaults.
const (
	DefaultMaxRounds     = 10
	DefaultTurnDelay     = Duration(time.Second)
	DefaultContextWindow = 6
	DefaultContextBudget = 4000
	DefaultMaxAttempts   = 3
	DefaultRetryBackoff  = Duration(2 * time.Second)
)

// AgentSpec declares one participant. Kind selects the handle factory in a
// handle.Registry (for example "openai", "anthropic" or "mock").
type AgentSpec struct {
	ID           string            `yaml:"id" json:"id"`
	Name         string            `yaml:"name,omitempty" json:"name,omitempty"`
	Kind         string            `yaml:"kind" json:"kind"`
	Identity     string            `yaml:"identity,omitempty" json:"identity,omitempty"`
	Model        string            `yaml:"model,omitempty" json:"model,omitempty"`
	Instructions string            `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	APIKeyEnv    string            `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	Temperature  *float64          `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens    int64             `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Stream       bool              `yaml:"stream,omitempty" json:"stream,omitempty"`
	Inactive     bool              `yaml:"inactive,omitempty" json:"inactive,omitempty"`
	Responses    map[string]string `yaml:"responses,omitempty" json:"responses,omitempty"`
}

// Clone returns a deep copy of the spec.
func (a AgentSpec) Clone() AgentSpec {
	if a.Temperature != nil {
		t := *a.Temperature
		a.Temperature = &t
	}
	if a.Responses != nil {
		r := make(map[string]string, len(a.Responses))
		for k, v := range a.Responses {
			r[k] = v
		}
		a.Responses = r
	}
	return a
}

// DisplayName returns Name, falling back to ID.
func (a AgentSpec) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// ContextConfig configures context synthesis.
type ContextConfig struct {
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	// Window is the number of most recent exchanges used by "recent".
	Window int `yaml:"window,omitempty" json:"window,omitempty"`
	// Budget bounds the "weighted" context in characters.
	Budget int `yaml:"budget,omitempty" json:"budget,omitempty"`
	// Template renders one exchange; empty selects the built-in layout.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
}

// FailureConfig configures the agent call failure policy.
type FailureConfig struct {
	Policy      FailurePolicy `yaml:"policy" json:"policy"`
	MaxAttempts int           `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	// Backoff is the linear retry delay step. Nil selects DefaultRetryBackoff,
	// zero retries immediately.
	Backoff *Duration `yaml:"backoff,omitempty" json:"backoff,omitempty"`
	// OnExhausted is the policy applied once retries are exhausted: skip or halt.
	OnExhausted FailurePolicy `yaml:"on_exhausted,omitempty" json:"on_exhausted,omitempty"`
}

// BackoffStep returns the retry delay step.
func (f FailureConfig) BackoffStep() time.Duration {
	if f.Backoff == nil {
		return DefaultRetryBackoff.Std()
	}
	return f.Backoff.Std()
}

// RateLimitConfig configures the shared per (platform, identity) limiter.
// Zero Requests disables limiting.
type RateLimitConfig struct {
	Requests int      `yaml:"requests,omitempty" json:"requests,omitempty"`
	Per      Duration `yaml:"per,omitempty" json:"per,omitempty"`
	Burst    int      `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// DialogueConfig enumerates every recognized dialogue option. Documented
// defaults are applied by ApplyDefaults.
type DialogueConfig struct {
	Name          string       `yaml:"name" json:"name"`
	Type          DialogueType `yaml:"type,omitempty" json:"type,omitempty"`
	InitialPrompt string       `yaml:"initial_prompt" json:"initial_prompt"`
	// StartWith picks the first speaker; defaults to the first agent.
	StartWith string `yaml:"start_with,omitempty" json:"start_with,omitempty"`
	// MaxRounds bounds the loop. Nil selects DefaultMaxRounds, an explicit
	// zero runs until stopped.
	MaxRounds *int `yaml:"max_rounds,omitempty" json:"max_rounds,omitempty"`
	// TurnDelay is the pause between turns. Nil selects DefaultTurnDelay.
	TurnDelay          *Duration `yaml:"turn_delay,omitempty" json:"turn_delay,omitempty"`
	SkipInactiveAgents bool      `yaml:"skip_inactive_agents,omitempty" json:"skip_inactive_agents,omitempty"`
	// AllowInterruptions is accepted for compatibility with older session
	// files. Only false is supported: calls are strictly serialized.
	AllowInterruptions bool            `yaml:"allow_interruptions,omitempty" json:"allow_interruptions,omitempty"`
	Context            ContextConfig   `yaml:"context" json:"context"`
	Failure            FailureConfig   `yaml:"failure" json:"failure"`
	RateLimit          RateLimitConfig `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	Agents             []AgentSpec     `yaml:"agents" json:"agents"`
}

// Rounds returns MaxRounds, falling back to DefaultMaxRounds when unset.
// Zero means unbounded.
func (c *DialogueConfig) Rounds() int {
	if c.MaxRounds == nil {
		return DefaultMaxRounds
	}
	return *c.MaxRounds
}

// Delay returns TurnDelay, falling back to DefaultTurnDelay when unset.
func (c *DialogueConfig) Delay() time.Duration {
	if c.TurnDelay == nil {
		return DefaultTurnDelay.Std()
	}
	return c.TurnDelay.Std()
}

// Clone returns a deep copy of the configuration.
func (c DialogueConfig) Clone() DialogueConfig {
	out := c
	if c.MaxRounds != nil {
		out.MaxRounds = Int(*c.MaxRounds)
	}
	if c.TurnDelay != nil {
		out.TurnDelay = DurationOf(c.TurnDelay.Std())
	}
	if c.Failure.Backoff != nil {
		out.Failure.Backoff = DurationOf(c.Failure.Backoff.Std())
	}
	if c.Agents != nil {
		out.Agents = make([]AgentSpec, len(c.Agents))
		for i, a := range c.Agents {
			out.Agents[i] = a.Clone()
		}
	}
	return out
}

// ApplyDefaults fills every unset option with its documented default.
func (c *DialogueConfig) ApplyDefaults() {
	if c.Type == "" {
		if len(c.Agents) == 2 {
			c.Type = DialoguePairwise
		} else {
			c.Type = DialogueRoundRobin
		}
	}
	if c.StartWith == "" && len(c.Agents) > 0 {
		c.StartWith = c.Agents[0].ID
	}
	if c.MaxRounds == nil {
		c.MaxRounds = Int(DefaultMaxRounds)
	}
	if c.TurnDelay == nil {
		c.TurnDelay = DurationOf(DefaultTurnDelay.Std())
	}
	if c.Context.Strategy == "" {
		c.Context.Strategy = StrategyRecent
	}
	if c.Context.Window == 0 {
		c.Context.Window = DefaultContextWindow
	}
	if c.Context.Budget == 0 {
		c.Context.Budget = DefaultContextBudget
	}
	if c.Failure.Policy == "" {
		c.Failure.Policy = FailureRetry
	}
	if c.Failure.MaxAttempts == 0 {
		c.Failure.MaxAttempts = DefaultMaxAttempts
	}
	if c.Failure.Backoff == nil {
		c.Failure.Backoff = DurationOf(DefaultRetryBackoff.Std())
	}
	if c.Failure.OnExhausted == "" {
		c.Failure.OnExhausted = FailureSkip
	}
	if c.RateLimit.Requests > 0 {
		if c.RateLimit.Per == 0 {
			c.RateLimit.Per = Duration(time.Minute)
		}
		if c.RateLimit.Burst == 0 {
			c.RateLimit.Burst = 1
		}
	}
}

// Validate checks the configuration and returns a *ConfigurationError
// describing the first problem found.
func (c *DialogueConfig) Validate() error {
	if len(c.Agents) < 2 {
		return NewConfigurationError("agents", "at least two agents are required, got %d", len(c.Agents))
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		field := fmt.Sprintf("agents[%d]", i)
		switch a.ID {
		case "":
			return NewConfigurationError(field+".id", "must not be empty")
		case TargetBoth, TargetAll:
			return NewConfigurationError(field+".id", "%q is reserved", a.ID)
		}
		if _, dup := seen[a.ID]; dup {
			return NewConfigurationError(field+".id", "duplicate agent id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.Kind == "" {
			return NewConfigurationError(field+".kind", "must not be empty")
		}
	}
	switch c.Type {
	case DialoguePairwise:
		if len(c.Agents) != 2 {
			return NewConfigurationError("type", "pairwise dialogues need exactly two agents, got %d", len(c.Agents))
		}
	case DialogueRoundRobin:
	default:
		return NewConfigurationError("type", "unknown dialogue type %q", c.Type)
	}
	if c.StartWith != "" {
		if _, ok := seen[c.StartWith]; !ok {
			return NewConfigurationError("start_with", "unknown agent %q", c.StartWith)
		}
	}
	if c.Rounds() < 0 {
		return NewConfigurationError("max_rounds", "must not be negative")
	}
	if c.Delay() < 0 {
		return NewConfigurationError("turn_delay", "must not be negative")
	}
	if c.Failure.BackoffStep() < 0 {
		return NewConfigurationError("failure.backoff", "must not be negative")
	}
	if c.AllowInterruptions {
		return NewConfigurationError("allow_interruptions", "concurrent agent calls are not supported")
	}
	if !c.Context.Strategy.Valid() {
		return NewConfigurationError("context.strategy", "unknown strategy %q", c.Context.Strategy)
	}
	if c.Context.Strategy == StrategyRecent && c.Context.Window < 1 {
		return NewConfigurationError("context.window", "must be at least 1")
	}
	if c.Context.Strategy == StrategyWeighted && c.Context.Budget < 1 {
		return NewConfigurationError("context.budget", "must be at least 1")
	}
	if !c.Failure.Policy.Valid() {
		return NewConfigurationError("failure.policy", "unknown policy %q", c.Failure.Policy)
	}
	if c.Failure.OnExhausted != "" && c.Failure.OnExhausted != FailureSkip && c.Failure.OnExhausted != FailureHalt {
		return NewConfigurationError("failure.on_exhausted", "must be skip or halt, got %q", c.Failure.OnExhausted)
	}
	if c.Failure.MaxAttempts < 1 {
		return NewConfigurationError("failure.max_attempts", "must be at least 1")
	}
	if c.RateLimit.Requests < 0 {
		return NewConfigurationError("rate_limit.requests", "must not be negative")
	}
	return nil
}

// AgentIDs returns the configured agent ids in order.
func (c *DialogueConfig) AgentIDs() []string {
	ids := make([]string, len(c.Agents))
	for i, a := range c.Agents {
		ids[i] = a.ID
	}
	return ids
}
