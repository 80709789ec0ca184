package legal_ner

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strconv"

	"github.com/turtacn/LexNER/pkg/errors"
)

// DefaultMaxLength is the subtoken budget per tagger call; longer inputs are
// truncated by the tagger.
const DefaultMaxLength = 320

// TagOutput is one tagger call's per-token result.  Offsets are [start, end)
// rune indices into the text passed to Tag; special tokens carry end <= start.
type TagOutput struct {
	LabelIDs []int
	Offsets  [][2]int
	// Scores is optional; when set, Scores[i] is the probability of LabelIDs[i].
	Scores []float64
}

// Tagger is the sequence-tagging model contract.  Implementations must be
// safe for concurrent use or serialize internally.
type Tagger interface {
	Tag(ctx context.Context, text string) (*TagOutput, error)
	Labels() LabelMap
}

// ReadyChecker is implemented by taggers that load lazily.
type ReadyChecker interface {
	Ready() bool
}

// LabelMap maps label ids to BIO labels such as "B-PERSON".
type LabelMap map[int]string

// Label returns the label for id, or "O" when unknown.
func (m LabelMap) Label(id int) string {
	if l, ok := m[id]; ok {
		return l
	}
	return "O"
}

// IDs returns the label ids in ascending order.
func (m LabelMap) IDs() []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Size returns one past the largest id, which is the emission width.
func (m LabelMap) Size() int {
	max := -1
	for id := range m {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// DefaultLabelMap is the label set of the stock Turkish legal model.
func DefaultLabelMap() LabelMap {
	labels := []string{"O"}
	for _, t := range EntityTypes {
		labels = append(labels, "B-"+string(t), "I-"+string(t))
	}
	m := make(LabelMap, len(labels))
	for i, l := range labels {
		m[i] = l
	}
	return m
}

type labelMappingsFile struct {
	ID2Label map[string]string `json:"id2label"`
	Label2ID map[string]int    `json:"label2id"`
}

// LoadLabelMap reads an extended_label_mappings.json file.  id2label wins;
// label2id is used when id2label is absent.
func LoadLabelMap(path string) (LabelMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERLabelMapInvalid, "read label mappings").WithDetail(path)
	}
	return ParseLabelMap(data)
}

// ParseLabelMap decodes the JSON label mappings format.
func ParseLabelMap(data []byte) (LabelMap, error) {
	var f labelMappingsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERLabelMapInvalid, "decode label mappings")
	}

	m := make(LabelMap)
	switch {
	case len(f.ID2Label) > 0:
		for k, v := range f.ID2Label {
			id, err := strconv.Atoi(k)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeNERLabelMapInvalid, "non-integer label id").WithDetail(k)
			}
			m[id] = v
		}
	case len(f.Label2ID) > 0:
		for l, id := range f.Label2ID {
			m[id] = l
		}
	default:
		return nil, errors.New(errors.ErrCodeNERLabelMapInvalid, "label mappings are empty")
	}
	for id := range m {
		if id < 0 {
			return nil, errors.Newf(errors.ErrCodeNERLabelMapInvalid, "negative label id %d", id)
		}
	}
	return m, nil
}
