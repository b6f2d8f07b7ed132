package core

import (
	"fmt"
	"time"
)

// InterjectionType selects the prompt modification rule applied when an
// interjection is consumed.
type InterjectionType string

const (
	InterjectionSideQuestion InterjectionType = "side_question"
	InterjectionCorrection   InterjectionType = "correction"
	InterjectionDirection    InterjectionType = "direction"
	InterjectionPause        InterjectionType = "pause"
	InterjectionResume       InterjectionType = "resume"
)

// Valid reports whether t is one of the recognized interjection types.
func (t InterjectionType) Valid() bool {
	switch t {
	case InterjectionSideQuestion, InterjectionCorrection, InterjectionDirection, InterjectionPause, InterjectionResume:
		return true
	}
	return false
}

// Priority orders pending interjections. Higher priorities are consumed first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank maps the priority onto an integer where larger means more urgent.
// Unknown priorities rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Valid reports whether p is a recognized priority.
func (p Priority) Valid() bool { return p.Rank() > 0 }

// Interjection is an out-of-band text injection applied to a targeted
// agent's next prompt. It is consumed at most once and kept for audit after
// consumption.
type Interjection struct {
	ID         string           `json:"id"`
	Type       InterjectionType `json:"type"`
	Text       string           `json:"text"`
	Target     string           `json:"target"`
	Priority   Priority         `json:"priority"`
	Timestamp  time.Time        `json:"timestamp"`
	Consumed   bool             `json:"consumed"`
	ConsumedAt *time.Time       `json:"consumed_at,omitempty"`
	ConsumedBy string           `json:"consumed_by,omitempty"`
}

// Matches reports whether the interjection is addressed to agentID.
func (in Interjection) Matches(agentID string) bool {
	return in.Target == agentID || in.Target == TargetBoth || in.Target == TargetAll
}

// Clone returns a copy that shares no pointers with in.
func (in Interjection) Clone() Interjection {
	c := in
	if in.ConsumedAt != nil {
		t := *in.ConsumedAt
		c.ConsumedAt = &t
	}
	return c
}

// String implements fmt.Stringer for log output.
func (in Interjection) String() string {
	return fmt.Sprintf("%s[%s -> %s, %s]", in.ID, in.Type, in.Target, in.Priority)
}

// CloneInterjections deep copies a slice of interjections.
func CloneInterjections(in []Interjection) []Interjection {
	out := make([]Interjection, len(in))
	for i, it := range in {
		out[i] = it.Clone()
	}
	return out
}
