package agents

import "context"

// StaticDirectory serves agents from configuration.
type StaticDirectory struct {
	byNumber map[string]Snapshot
	fallback *Snapshot
}

// NewStaticDirectory indexes agents by number. A nil fallback means unknown
// numbers are rejected.
func NewStaticDirectory(byNumber map[string]Snapshot, fallback *Snapshot) *StaticDirectory {
	idx := make(map[string]Snapshot, len(byNumber))
	for number, snap := range byNumber {
		idx[NormalizeNumber(number)] = snap
	}
	return &StaticDirectory{byNumber: idx, fallback: fallback}
}

func (d *StaticDirectory) Lookup(_ context.Context, number string) (Snapshot, error) {
	if snap, ok := d.byNumber[NormalizeNumber(number)]; ok {
		return snap, nil
	}
	if d.fallback != nil {
		return *d.fallback, nil
	}
	return Snapshot{}, ErrNotFound
}
