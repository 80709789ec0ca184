package legal_ner

import (
	"encoding/json"
	"math"
	"os"
	"strings"

	"github.com/turtacn/LexNER/pkg/errors"
)

// illegalScore stands in for -inf so sums stay finite.
const illegalScore = -1e4

// Transitions holds linear-chain CRF scores in log space, in the layout a
// trained CRF head exports: Matrix[from][to], plus start and end scores.
type Transitions struct {
	Start  []float64   `json:"start_transitions"`
	End    []float64   `json:"end_transitions"`
	Matrix [][]float64 `json:"transitions"`
}

// Size returns the number of labels the transitions cover.
func (t *Transitions) Size() int { return len(t.Matrix) }

func (t *Transitions) validate(n int) error {
	if len(t.Matrix) != n || len(t.Start) != n || len(t.End) != n {
		return errors.Newf(errors.ErrCodeNERLabelMapInvalid,
			"transition size mismatch: matrix=%d start=%d end=%d labels=%d",
			len(t.Matrix), len(t.Start), len(t.End), n)
	}
	for i, row := range t.Matrix {
		if len(row) != n {
			return errors.Newf(errors.ErrCodeNERLabelMapInvalid, "transition row %d has %d columns, want %d", i, len(row), n)
		}
	}
	return nil
}

// LoadTransitions reads trained CRF transitions from JSON and checks them
// against the label map.
func LoadTransitions(path string, labels LabelMap) (*Transitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERLabelMapInvalid, "read transitions").WithDetail(path)
	}
	var t Transitions
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERLabelMapInvalid, "decode transitions")
	}
	if err := t.validate(labels.Size()); err != nil {
		return nil, err
	}
	return &t, nil
}

// BuildBIOTransitions builds transitions that only forbid illegal BIO moves:
// O -> I-X, B-X -> I-Y, I-X -> I-Y (X != Y), and starting on I-X.
func BuildBIOTransitions(labels LabelMap) *Transitions {
	n := labels.Size()
	t := &Transitions{
		Start:  make([]float64, n),
		End:    make([]float64, n),
		Matrix: make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		t.Matrix[i] = make([]float64, n)
		if strings.HasPrefix(labels.Label(i), "I-") {
			t.Start[i] = illegalScore
		}
		for j := 0; j < n; j++ {
			if !isLegalBIOTransition(labels.Label(i), labels.Label(j)) {
				t.Matrix[i][j] = illegalScore
			}
		}
	}
	return t
}

func isLegalBIOTransition(from, to string) bool {
	if !strings.HasPrefix(to, "I-") {
		return true
	}
	toType := to[2:]
	switch {
	case strings.HasPrefix(from, "B-"), strings.HasPrefix(from, "I-"):
		return from[2:] == toType
	default:
		return false
	}
}

// ViterbiDecode returns the highest scoring label path for emissions
// ([seq][labels], log-space logits) under trans.  With nil trans it falls
// back to a per-token argmax.
func ViterbiDecode(emissions [][]float64, trans *Transitions) []int {
	seqLen := len(emissions)
	if seqLen == 0 {
		return []int{}
	}
	if trans == nil {
		return argmaxPath(emissions)
	}
	n := trans.Size()

	score := make([]float64, n)
	for j := 0; j < n; j++ {
		score[j] = trans.Start[j] + emissionAt(emissions[0], j)
	}

	backptr := make([][]int, seqLen)
	next := make([]float64, n)
	for t := 1; t < seqLen; t++ {
		backptr[t] = make([]int, n)
		for j := 0; j < n; j++ {
			best, bestPrev := math.Inf(-1), 0
			for k := 0; k < n; k++ {
				if s := score[k] + trans.Matrix[k][j]; s > best {
					best, bestPrev = s, k
				}
			}
			next[j] = best + emissionAt(emissions[t], j)
			backptr[t][j] = bestPrev
		}
		score, next = next, score
	}

	bestFinal, bestScore := 0, math.Inf(-1)
	for j := 0; j < n; j++ {
		if s := score[j] + trans.End[j]; s > bestScore {
			bestScore, bestFinal = s, j
		}
	}

	path := make([]int, seqLen)
	path[seqLen-1] = bestFinal
	for t := seqLen - 1; t > 0; t-- {
		path[t-1] = backptr[t][path[t]]
	}
	return path
}

func emissionAt(row []float64, j int) float64 {
	if j < len(row) {
		return row[j]
	}
	return illegalScore
}

func argmaxPath(emissions [][]float64) []int {
	path := make([]int, len(emissions))
	for i, row := range emissions {
		best := 0
		for j := 1; j < len(row); j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		path[i] = best
	}
	return path
}

// Softmax converts a row of logits to probabilities.
func Softmax(row []float64) []float64 {
	out := make([]float64, len(row))
	if len(row) == 0 {
		return out
	}
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for i, v := range row {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// pathScores returns the softmax probability of each chosen label.
func pathScores(emissions [][]float64, path []int) []float64 {
	scores := make([]float64, len(path))
	for i, j := range path {
		p := Softmax(emissions[i])
		if j < len(p) {
			scores[i] = p[j]
		}
	}
	return scores
}
