package snapshot

import (
	"epp-monitor/internal/domain/epp"
)

// NewViolations returns violation events of next that were not present in prev.
// A zero prev (first snapshot or after a reset) yields nothing so the backlog is not re-announced.
func NewViolations(prev, next epp.Snapshot) []epp.DetectionEvent {
	if prev.Sequence == 0 || prev.Reset {
		return nil
	}

	known := make(map[string]struct{}, len(prev.Events))
	for _, e := range prev.Events {
		known[EventKey(e)] = struct{}{}
	}

	var added []epp.DetectionEvent
	for _, e := range next.Events {
		if !IsViolation(e) {
			continue
		}
		if _, ok := known[EventKey(e)]; ok {
			continue
		}
		added = append(added, e)
	}
	return added
}
