// Package scheduler drives a dialogue: it owns the ordered agent set, the
// round and turn counters and the run/pause/stop state machine.
//
// Each turn selects the next eligible agent, synthesizes its context, applies
// at most one pending interjection, calls the agent, records the exchange and
// publishes turn events. At most one agent call is in flight per scheduler.
//
// Two policies share the state machine:
//
//   - pairwise: exactly two agents in strict alternation. StartWith selects
//     the first speaker.
//   - round_robin: N agents cycled in declaration order, rotated so that
//     StartWith speaks first.
//
// Pause and Stop are observed at turn boundaries only. An agent call that is
// already in flight always completes and is recorded.
package scheduler
