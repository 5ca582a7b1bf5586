package recommend

import (
	"sort"
	"strings"
	"unicode"

	"carrec/internal/dataset"
	"carrec/internal/domain"
)

type candidate struct {
	rec   dataset.Record
	make  string
	model string
	pair  string
}

// Resolve maps model identifiers to dataset rows. Each identifier is tried
// against four tiers in order and takes the first row, in dataset order, of
// the first tier that matches:
//
//  1. "Make Model": make contains the first word, model contains the rest
//  2. model contains the identifier
//  3. make contains the identifier
//  4. the identifier names the model as a whole word
//
// Prose entries are scanned for whole-word model names instead, in order of
// mention, and are never reported as unresolved. A make/model pair is
// recommended at most once. Identifiers that match nothing are returned as
// unresolved. At most topN rows are returned.
func Resolve(d *dataset.Dataset, entries []domain.Entry, topN int) ([]domain.Recommendation, []string) {
	cands := candidates(d)

	var (
		out        []domain.Recommendation
		unresolved []string
		chosen     = make(map[string]bool)
	)
	for _, e := range entries {
		if topN > 0 && len(out) >= topN {
			break
		}
		id := strings.ToLower(strings.TrimSpace(e.Identifier))
		if id == "" {
			continue
		}
		if e.Prose {
			for _, c := range mentions(cands, id, chosen) {
				if topN > 0 && len(out) >= topN {
					break
				}
				chosen[c.pair] = true
				v := d.Vehicle(c.rec)
				out = append(out, domain.Recommendation{Vehicle: v, Rank: len(out) + 1, Identifier: v.Model})
			}
			continue
		}
		hit, matched := match(cands, id, chosen)
		if !matched {
			unresolved = append(unresolved, e.Identifier)
			continue
		}
		if hit == nil {
			continue
		}
		chosen[hit.pair] = true
		out = append(out, domain.Recommendation{
			Vehicle:    d.Vehicle(hit.rec),
			Rank:       len(out) + 1,
			Identifier: e.Identifier,
			Rationale:  e.Rationale,
		})
	}
	return out, unresolved
}

// mentions returns the unchosen candidates whose model appears in text as a
// whole word, one per make/model pair, ordered by first mention. Candidates
// mentioned at the same position keep dataset order.
func mentions(cands []candidate, text string, chosen map[string]bool) []*candidate {
	type hit struct {
		c   *candidate
		pos int
	}
	var hits []hit
	seen := make(map[string]bool)
	for i := range cands {
		c := &cands[i]
		if chosen[c.pair] || seen[c.pair] || len([]rune(c.model)) < 2 {
			continue
		}
		if pos := wordIndex(text, c.model); pos >= 0 {
			seen[c.pair] = true
			hits = append(hits, hit{c: c, pos: pos})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]*candidate, len(hits))
	for i, h := range hits {
		out[i] = h.c
	}
	return out
}

func candidates(d *dataset.Dataset) []candidate {
	cands := make([]candidate, 0, d.Len())
	for _, rec := range d.Records {
		mk := strings.ToLower(d.Text(rec, dataset.RoleMake))
		md := strings.ToLower(d.Text(rec, dataset.RoleModel))
		cands = append(cands, candidate{rec: rec, make: mk, model: md, pair: mk + "\x00" + md})
	}
	return cands
}

// match returns the first unchosen candidate of the first matching tier.
// matched is true with a nil candidate when the tier only held pairs that
// were already recommended.
func match(cands []candidate, id string, chosen map[string]bool) (*candidate, bool) {
	tiers := []func(c *candidate) bool{
		func(c *candidate) bool {
			mk, md, ok := strings.Cut(id, " ")
			return ok && mk != "" && md != "" && c.make != "" && c.model != "" &&
				strings.Contains(c.make, mk) && strings.Contains(c.model, md)
		},
		func(c *candidate) bool { return c.model != "" && strings.Contains(c.model, id) },
		func(c *candidate) bool { return c.make != "" && strings.Contains(c.make, id) },
		func(c *candidate) bool { return len([]rune(c.model)) >= 2 && containsWord(id, c.model) },
	}
	for _, tier := range tiers {
		matched := false
		for i := range cands {
			c := &cands[i]
			if !tier(c) {
				continue
			}
			matched = true
			if !chosen[c.pair] {
				return c, true
			}
		}
		if matched {
			return nil, true
		}
	}
	return nil, false
}

// containsWord reports whether word occurs in s bounded by non-alphanumerics.
func containsWord(s, word string) bool { return wordIndex(s, word) >= 0 }

// wordIndex returns the byte offset of the first bounded occurrence of word
// in s, or -1.
func wordIndex(s, word string) int {
	if word == "" {
		return -1
	}
	for from := 0; from <= len(s)-len(word); {
		i := strings.Index(s[from:], word)
		if i < 0 {
			return -1
		}
		start := from + i
		if boundary(s, start-1) && boundary(s, start+len(word)) {
			return start
		}
		from = start + 1
	}
	return -1
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
