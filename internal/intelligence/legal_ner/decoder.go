package legal_ner

import "strings"

// DecodeBIO folds per-token BIO labels into entity spans expressed in the
// coordinates of text.
//
// offsets[i] is the [start, end) rune span of token i; special tokens carry
// end <= start and are skipped.  Label ids missing from idToLabel read as
// "O".  scores may be nil; when present, scores[i] is token i's probability
// and the entity confidence is the mean over its tokens.
//
// Closing an entity uses the end of the previous valid token, so a span never
// absorbs the token that terminated it.
func DecodeBIO(text string, labelIDs []int, offsets [][2]int, scores []float64, idToLabel LabelMap) []Entity {
	src := []rune(text)
	n := len(labelIDs)
	if len(offsets) < n {
		n = len(offsets)
	}

	var (
		out     []Entity
		open    bool
		curType EntityType
		curFrom int
		prevEnd int
		sum     float64
		cnt     int
	)

	flush := func() {
		if !open {
			return
		}
		open = false
		// Offsets past the text (truncation boundary) are clamped; only
		// spans left empty are dropped.
		from := clamp(curFrom, 0, len(src))
		to := clamp(prevEnd, 0, len(src))
		if to <= from {
			return
		}
		e := Entity{
			Text:   string(src[from:to]),
			Type:   curType,
			Start:  from,
			End:    to,
			Source: SourceModel,
		}
		if cnt > 0 {
			e.Confidence = Score(sum / float64(cnt))
		}
		out = append(out, e)
	}

	for i := 0; i < n; i++ {
		start, end := offsets[i][0], offsets[i][1]
		if end <= start {
			continue
		}

		prefix, typ := splitLabel(idToLabel.Label(labelIDs[i]))
		switch {
		case prefix == "O":
			flush()
		case prefix == "I" && open && typ == curType:
			// continuation
		default:
			flush()
			open = true
			curType = typ
			curFrom = start
			sum, cnt = 0, 0
		}

		if open && i < len(scores) {
			sum += scores[i]
			cnt++
		}
		prevEnd = end
	}
	flush()
	return out
}

// splitLabel returns ("O", "") for outside labels, ("B"|"I", type) for
// prefixed labels and ("B", type) for a bare type label.
func splitLabel(label string) (string, EntityType) {
	label = strings.TrimSpace(label)
	if label == "" || label == "O" {
		return "O", ""
	}
	if len(label) > 2 && label[1] == '-' {
		switch label[0] {
		case 'B', 'b':
			return "B", ParseEntityType(label[2:])
		case 'I', 'i':
			return "I", ParseEntityType(label[2:])
		}
	}
	return "B", ParseEntityType(label)
}
