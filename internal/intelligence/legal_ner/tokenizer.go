package legal_ner

import (
	"encoding/json"
	"math"
	"os"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/turtacn/LexNER/pkg/errors"
)

const metaspace = '▁'

// Encoding is the tokenizer output for one text.  Offsets are rune spans
// into the input; special tokens and bare word markers carry [s, s).
type Encoding struct {
	IDs     []int64
	Mask    []int64
	Offsets [][2]int
}

// UnigramTokenizer is a SentencePiece unigram tokenizer as exported in a
// Hugging Face tokenizer.json (XLM-RoBERTa family).
type UnigramTokenizer struct {
	pieces   map[string]int
	scores   []float64
	maxPiece int
	unkID    int
	unkScore float64
	bosID    int
	eosID    int
	padID    int
}

type tokenizerFile struct {
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
	} `json:"added_tokens"`
	Model struct {
		Type  string              `json:"type"`
		UnkID *int                `json:"unk_id"`
		Vocab [][]json.RawMessage `json:"vocab"`
	} `json:"model"`
}

// LoadTokenizer reads a tokenizer.json with a Unigram model.
func LoadTokenizer(path string) (*UnigramTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, "read tokenizer").WithDetail(path)
	}
	return ParseTokenizer(data)
}

// ParseTokenizer decodes tokenizer.json content.
func ParseTokenizer(data []byte) (*UnigramTokenizer, error) {
	var f tokenizerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, "decode tokenizer")
	}
	if f.Model.Type != "" && f.Model.Type != "Unigram" {
		return nil, errors.Newf(errors.ErrCodeNERModelNotAvailable, "unsupported tokenizer model %q", f.Model.Type)
	}

	vocab := make([]string, 0, len(f.Model.Vocab))
	scores := make([]float64, 0, len(f.Model.Vocab))
	for i, entry := range f.Model.Vocab {
		if len(entry) != 2 {
			return nil, errors.Newf(errors.ErrCodeNERModelNotAvailable, "vocab entry %d malformed", i)
		}
		var piece string
		var score float64
		if err := json.Unmarshal(entry[0], &piece); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, "decode vocab piece")
		}
		if err := json.Unmarshal(entry[1], &score); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeNERModelNotAvailable, "decode vocab score")
		}
		vocab = append(vocab, piece)
		scores = append(scores, score)
	}

	unk := 3
	if f.Model.UnkID != nil {
		unk = *f.Model.UnkID
	}
	tok := NewUnigramTokenizer(vocab, scores, unk)
	for _, at := range f.AddedTokens {
		switch at.Content {
		case "<s>":
			tok.bosID = at.ID
		case "</s>":
			tok.eosID = at.ID
		case "<pad>":
			tok.padID = at.ID
		}
	}
	return tok, nil
}

// NewUnigramTokenizer builds a tokenizer from parallel vocab and score
// slices.  Special ids default to the XLM-R layout (<s>=0, <pad>=1, </s>=2).
func NewUnigramTokenizer(vocab []string, scores []float64, unkID int) *UnigramTokenizer {
	t := &UnigramTokenizer{
		pieces: make(map[string]int, len(vocab)),
		scores: scores,
		unkID:  unkID,
		bosID:  0,
		padID:  1,
		eosID:  2,
	}
	minScore := 0.0
	for i, p := range vocab {
		if _, dup := t.pieces[p]; !dup {
			t.pieces[p] = i
		}
		if n := utf8.RuneCountInString(p); n > t.maxPiece {
			t.maxPiece = n
		}
		if i < len(scores) && scores[i] < minScore {
			minScore = scores[i]
		}
	}
	t.unkScore = minScore - 10
	return t
}

// PadID returns the padding token id.
func (t *UnigramTokenizer) PadID() int64 { return int64(t.padID) }

// Encode tokenizes text with <s> ... </s> framing, truncated so the whole
// sequence fits maxLen.
func (t *UnigramTokenizer) Encode(text string, maxLen int) Encoding {
	enc := Encoding{}
	push := func(id int, s, e int) {
		enc.IDs = append(enc.IDs, int64(id))
		enc.Mask = append(enc.Mask, 1)
		enc.Offsets = append(enc.Offsets, [2]int{s, e})
	}

	push(t.bosID, 0, 0)
	budget := maxLen - 2
	for _, w := range splitWords(text) {
		for _, p := range t.segment(w) {
			if budget <= 0 {
				break
			}
			push(p.id, p.start, p.end)
			budget--
		}
	}
	push(t.eosID, 0, 0)
	return enc
}

// word is a whitespace-delimited chunk after per-rune NFKC; orig[i] is the
// original rune index of norm[i].
type word struct {
	norm []rune
	orig []int
}

func splitWords(text string) []word {
	var (
		words []word
		cur   word
	)
	i := 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			if len(cur.norm) > 0 {
				words = append(words, cur)
				cur = word{}
			}
			i++
			continue
		}
		for _, nr := range norm.NFKC.String(string(r)) {
			cur.norm = append(cur.norm, nr)
			cur.orig = append(cur.orig, i)
		}
		i++
	}
	if len(cur.norm) > 0 {
		words = append(words, cur)
	}
	return words
}

type piece struct {
	id         int
	start, end int
}

// segment runs unigram Viterbi over "▁" + word.
func (t *UnigramTokenizer) segment(w word) []piece {
	s := append([]rune{metaspace}, w.norm...)
	n := len(s)

	best := make([]float64, n+1)
	from := make([]int, n+1)
	ids := make([]int, n+1)
	for i := 1; i <= n; i++ {
		best[i] = math.Inf(-1)
	}

	for end := 1; end <= n; end++ {
		lo := end - t.maxPiece
		if lo < 0 {
			lo = 0
		}
		for start := lo; start < end; start++ {
			if math.IsInf(best[start], -1) {
				continue
			}
			id, ok := t.pieces[string(s[start:end])]
			if !ok || id >= len(t.scores) {
				continue
			}
			if sc := best[start] + t.scores[id]; sc > best[end] {
				best[end], from[end], ids[end] = sc, start, id
			}
		}
		if math.IsInf(best[end], -1) && !math.IsInf(best[end-1], -1) {
			best[end], from[end], ids[end] = best[end-1]+t.unkScore, end-1, t.unkID
		}
	}

	var rev []piece
	for end := n; end > 0; end = from[end] {
		start := from[end]
		rev = append(rev, t.span(w, start, end, ids[end]))
	}
	out := make([]piece, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}

// span converts [start, end) over "▁"+word into original rune offsets.  The
// leading marker occupies no original text.
func (t *UnigramTokenizer) span(w word, start, end, id int) piece {
	if start == 0 {
		start = 1
	}
	if end <= start {
		at := 0
		if len(w.orig) > 0 {
			at = w.orig[0]
		}
		return piece{id: id, start: at, end: at}
	}
	return piece{id: id, start: w.orig[start-1], end: w.orig[end-2] + 1}
}
