package core

import "time"

// Snapshot is the transportable session document produced by exporting a
// dialogue. Importing a snapshot reconstructs an equivalent session whose
// exchange list is deep-equal to the exported one.
type Snapshot struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          DialogueType   `json:"type"`
	Agents        []Agent        `json:"agents"`
	Exchanges     []Exchange     `json:"exchanges"`
	Interjections []Interjection `json:"interjections"`
	CreatedAt     time.Time      `json:"createdAt"`
	Config        DialogueConfig `json:"config"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Agents = append([]Agent(nil), s.Agents...)
	c.Exchanges = CloneExchanges(s.Exchanges)
	c.Interjections = CloneInterjections(s.Interjections)
	c.Config = s.Config.Clone()
	return &c
}

// Summary returns the listing view of the snapshot.
func (s *Snapshot) Summary() SnapshotSummary {
	return SnapshotSummary{
		ID:        s.ID,
		Name:      s.Name,
		Type:      s.Type,
		Agents:    len(s.Agents),
		Exchanges: len(s.Exchanges),
		CreatedAt: s.CreatedAt,
	}
}

// SnapshotSummary is a lightweight listing entry for stored snapshots.
type SnapshotSummary struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      DialogueType `json:"type"`
	Agents    int          `json:"agents"`
	Exchanges int          `json:"exchanges"`
	CreatedAt time.Time    `json:"createdAt"`
}
