// Package search holds the text matching rules shared by every SearchIndex
// implementation, so the in-memory and Redis indexes rank identically.
package search

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rl1809/catalog/internal/core/domain"
)

const (
	nameWeight        = 2.0
	descriptionWeight = 1.0
	phraseBonus       = 4.0

	exactScore     = 3.0
	prefixScore    = 2.0
	substringScore = 1.5
	fuzzyScore     = 1.0

	// tokens shorter than this only match exactly or as substrings, and
	// force a full scan in gram-narrowed indexes
	minFuzzyRunes = 4
)

// Tokenize lower-cases s and splits it on anything that is not a letter or digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Score reports how well doc matches term. Zero means no match.
//
// A document matches when the whole term occurs in its name or description,
// or when every term token matches one of its tokens exactly, as a prefix, as
// a substring or within a small edit distance.
func Score(term string, doc domain.SearchDocument) float64 {
	phrase := strings.ToLower(strings.TrimSpace(term))
	if phrase == "" {
		return 0
	}

	var score float64
	if strings.Contains(strings.ToLower(doc.Name), phrase) {
		score += phraseBonus * nameWeight
	}
	if strings.Contains(strings.ToLower(doc.Description), phrase) {
		score += phraseBonus * descriptionWeight
	}
	phraseHit := score > 0

	queryTokens := Tokenize(phrase)
	nameTokens := Tokenize(doc.Name)
	descTokens := Tokenize(doc.Description)

	allMatched := len(queryTokens) > 0
	for _, q := range queryTokens {
		best := max(tokenScore(q, nameTokens)*nameWeight, tokenScore(q, descTokens)*descriptionWeight)
		if best == 0 {
			allMatched = false
			continue
		}
		score += best
	}

	if !allMatched && !phraseHit {
		return 0
	}
	return score
}

// Rank scores docs against term and returns the IDs of the matching ones,
// best first. Equal scores are ordered by ascending ID.
func Rank(term string, docs []domain.SearchDocument) []int64 {
	type hit struct {
		id    int64
		score float64
	}

	hits := make([]hit, 0, len(docs))
	for _, doc := range docs {
		if s := Score(term, doc); s > 0 {
			hits = append(hits, hit{id: doc.ID, score: s})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}

// QueryGrams returns the bigrams a candidate document must share with term.
// fullScan is true when the term has a token too short to narrow by grams,
// in which case every document is a candidate.
func QueryGrams(term string) (grams []string, fullScan bool) {
	tokens := Tokenize(term)
	if len(tokens) == 0 {
		return nil, true
	}

	seen := make(map[string]struct{})
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) < minFuzzyRunes {
			return nil, true
		}
		for _, g := range bigrams(tok) {
			if _, ok := seen[g]; !ok {
				seen[g] = struct{}{}
				grams = append(grams, g)
			}
		}
	}
	return grams, false
}

// DocumentGrams returns the distinct bigrams of every token in doc.
func DocumentGrams(doc domain.SearchDocument) []string {
	seen := make(map[string]struct{})
	var grams []string
	for _, tok := range append(Tokenize(doc.Name), Tokenize(doc.Description)...) {
		for _, g := range bigrams(tok) {
			if _, ok := seen[g]; !ok {
				seen[g] = struct{}{}
				grams = append(grams, g)
			}
		}
	}
	return grams
}

func bigrams(token string) []string {
	runes := []rune(token)
	if len(runes) < 2 {
		return nil
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}

func tokenScore(q string, tokens []string) float64 {
	var best float64
	edits := maxEdits(q)
	for _, tok := range tokens {
		var s float64
		switch {
		case tok == q:
			s = exactScore
		case strings.HasPrefix(tok, q):
			s = prefixScore
		case strings.Contains(tok, q):
			s = substringScore
		case edits > 0 && withinDistance(q, tok, edits):
			s = fuzzyScore
		}
		if s > best {
			best = s
		}
	}
	return best
}

func maxEdits(token string) int {
	switch n := utf8.RuneCountInString(token); {
	case n < minFuzzyRunes:
		return 0
	case n < 8:
		return 1
	default:
		return 2
	}
}

// withinDistance reports whether the Levenshtein distance between a and b is
// at most limit.
func withinDistance(a, b string, limit int) bool {
	ra, rb := []rune(a), []rune(b)
	if d := len(ra) - len(rb); d > limit || -d > limit {
		return false
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, curr[j])
		}
		if rowMin > limit {
			return false
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)] <= limit
}
