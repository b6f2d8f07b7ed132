package recorder

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/colloquy/core"
)

// EncodeSnapshot serializes a snapshot as indented JSON.
func EncodeSnapshot(snap *core.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("encode snapshot: nil snapshot")
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	return data, nil
}

// DecodeSnapshot parses and validates a snapshot. Malformed input yields a
// *core.ReplayError.
func DecodeSnapshot(data []byte) (*core.Snapshot, error) {
	var snap core.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &core.ReplayError{Message: "corrupt snapshot", Err: err}
	}
	if err := Validate(&snap); err != nil {
		return nil, err
	}
	if snap.Exchanges == nil {
		snap.Exchanges = []core.Exchange{}
	}
	if snap.Interjections == nil {
		snap.Interjections = []core.Interjection{}
	}
	return &snap, nil
}

// Validate checks the structural invariants of a snapshot: an id, known agent
// references and strictly increasing exchange order.
func Validate(snap *core.Snapshot) error {
	if snap.ID == "" {
		return &core.ReplayError{Message: "snapshot has no id"}
	}
	agents := make(map[string]struct{}, len(snap.Agents))
	for _, a := range snap.Agents {
		agents[a.ID] = struct{}{}
	}
	for i, ex := range snap.Exchanges {
		if _, ok := agents[ex.From]; !ok {
			return &core.ReplayError{SessionID: snap.ID, Message: fmt.Sprintf("exchange %d references unknown agent %q", i, ex.From)}
		}
		if i > 0 && !snap.Exchanges[i-1].Before(ex) {
			return &core.ReplayError{SessionID: snap.ID, Message: fmt.Sprintf("exchange %d is out of order", i)}
		}
	}
	for i, in := range snap.Interjections {
		if !in.Type.Valid() {
			return &core.ReplayError{SessionID: snap.ID, Message: fmt.Sprintf("interjection %d has unknown type %q", i, in.Type)}
		}
	}
	return nil
}
