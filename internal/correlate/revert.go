package correlate

import (
	"sort"
	"time"

	"exfilwatch/internal/events"
)

// revertWindow bounds how quickly a visibility change must be undone to count
// as a toggle-and-revert sequence rather than an ordinary correction.
const revertWindow = 10 * time.Minute

func isVisibilityChange(t events.ExfilType) bool {
	return t == events.ExfilChangeVisibility || t == events.ExfilChangeACL
}

func restoresInternal(e *events.ExfilEvent) bool {
	return e.Visibility == events.VisibilityPrivate || e.Visibility == events.VisibilityDomain
}

// markReverts flags external-toggle-and-revert pairs: a visibility change
// that exposes a doc externally, undone on the same doc by the same actor
// within revertWindow. A brief external window still leaks the file and the
// quick rollback reads as covering tracks, so both events are flagged.
func markReverts(exfil []events.ExfilEvent) {
	type key struct{ actor, doc string }

	groups := make(map[key][]int)
	for i := range exfil {
		e := &exfil[i]
		if !isVisibilityChange(e.Type) || e.DocID == "" {
			continue
		}
		k := key{events.NormalizeEmail(e.Actor), e.DocID}
		groups[k] = append(groups[k], i)
	}

	for _, idxs := range groups {
		sort.SliceStable(idxs, func(a, b int) bool {
			return exfil[idxs[a]].Timestamp.Before(exfil[idxs[b]].Timestamp)
		})
		for i := 0; i < len(idxs)-1; i++ {
			open := &exfil[idxs[i]]
			if !open.IsExternalShare() {
				continue
			}
			next := &exfil[idxs[i+1]]
			if restoresInternal(next) && next.Timestamp.Sub(open.Timestamp) <= revertWindow {
				open.IsRevert = true
				next.IsRevert = true
			}
		}
	}
}
