package legal_ner

// Remap projects entities decoded on a variant back onto the original text
// using the variant's index map.  Offsets outside the map are clamped; spans
// that collapse are dropped.  Text is recomputed from original.
func Remap(entities []Entity, indexMap []int, original string) []Entity {
	if len(indexMap) == 0 || len(entities) == 0 {
		return nil
	}
	src := []rune(original)
	last := len(indexMap) - 1

	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		start := indexMap[clamp(e.Start, 0, last)]
		end := indexMap[clamp(e.End-1, 0, last)] + 1

		start = clamp(start, 0, len(src))
		end = clamp(end, 0, len(src))
		if end <= start {
			continue
		}
		out = append(out, e.WithSpan(src, start, end))
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
