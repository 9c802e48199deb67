package entities

import "sort"

// Merge resolves overlapping entities with fixed rules so the outcome never
// depends on extraction order:
//
//  1. higher source priority wins (regex > lexicon > ner)
//  2. same priority: longer span wins
//  3. same length: higher confidence wins
//  4. still tied: the first accepted entity stays
//
// The result is sorted by position, pairwise non-overlapping, and merging it
// again returns it unchanged.
func Merge(entities []Entity) []Entity {
	if len(entities) == 0 {
		return nil
	}

	sorted := make([]Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		if pa, pb := priorityOf(a.Source), priorityOf(b.Source); pa != pb {
			return pa < pb
		}
		return a.Confidence > b.Confidence
	})

	var merged []Entity
	for _, entity := range sorted {
		overlapped := false
		for i, existing := range merged {
			if !entity.Overlaps(existing) {
				continue
			}
			overlapped = true
			entityPrio, existingPrio := priorityOf(entity.Source), priorityOf(existing.Source)
			switch {
			case entityPrio < existingPrio:
				merged[i] = entity
			case entityPrio == existingPrio:
				switch {
				case entity.SpanLength() > existing.SpanLength():
					merged[i] = entity
				case entity.SpanLength() == existing.SpanLength() && entity.Confidence > existing.Confidence:
					merged[i] = entity
				}
			}
			break
		}
		if !overlapped {
			merged = append(merged, entity)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	return merged
}
