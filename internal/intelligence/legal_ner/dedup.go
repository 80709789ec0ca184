package legal_ner

import (
	"sort"
	"strings"
)

// Deduplicate resolves overlaps and textual duplicates.
//
// Candidates are visited by (Start asc, Len desc).  A candidate conflicts
// with an accepted entity when their spans overlap or their trimmed,
// lower-cased texts are equal.  A conflicting candidate replaces every entity
// it conflicts with only when it is strictly longer than all of them;
// otherwise it is discarded.  The result is sorted by Start and contains no
// overlapping spans, so Deduplicate(Deduplicate(x)) == Deduplicate(x).
func Deduplicate(entities []Entity) []Entity {
	cands := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.Text != "" && e.End > e.Start {
			cands = append(cands, e)
		}
	}
	sortSpans(cands)

	accepted := make([]Entity, 0, len(cands))
	keys := make([]string, 0, len(cands))
	for _, c := range cands {
		key := dedupKey(c)
		var conflicts []int
		longer := true
		for i, a := range accepted {
			if c.Overlaps(a) || key == keys[i] {
				conflicts = append(conflicts, i)
				if c.Len() <= a.Len() {
					longer = false
				}
			}
		}
		if len(conflicts) == 0 {
			accepted = append(accepted, c)
			keys = append(keys, key)
			continue
		}
		if !longer {
			continue
		}
		accepted, keys = removeIndices(accepted, keys, conflicts)
		accepted = append(accepted, c)
		keys = append(keys, key)
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})
	return accepted
}

func dedupKey(e Entity) string {
	return strings.ToLower(strings.TrimSpace(e.Text))
}

// removeIndices drops the positions in idx (ascending) from both slices.
func removeIndices(ents []Entity, keys []string, idx []int) ([]Entity, []string) {
	outE := ents[:0:0]
	outK := keys[:0:0]
	k := 0
	for i := range ents {
		if k < len(idx) && idx[k] == i {
			k++
			continue
		}
		outE = append(outE, ents[i])
		outK = append(outK, keys[i])
	}
	return outE, outK
}

// sortSpans orders entities by (Start asc, Len desc), keeping the input order
// of equal spans.
func sortSpans(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Start != entities[j].Start {
			return entities[i].Start < entities[j].Start
		}
		return entities[i].Len() > entities[j].Len()
	})
}
