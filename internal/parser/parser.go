// Package parser extracts car identifiers from free-text model replies.
// Every parser is total: malformed input yields an empty entry list and the
// raw text as explanation, never an error.
package parser

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"carrec/internal/domain"
)

const (
	maxIdentifierRunes = 80
	maxIdentifierWords = 8
)

var (
	listMarker   = regexp.MustCompile(`^\s*(?:[-*+•]|\d{1,3}[.)]|\(\d{1,3}\))\s+`)
	leadingYear  = regexp.MustCompile(`^(?:19|20)\d{2}\s+`)
	trailingNote = regexp.MustCompile(`\s*\([^()]*\)\s*$`)
	separators   = []string{" - ", " – ", " — ", ": "}
)

// Default returns the parser used by the pipeline: structured JSON first,
// then list and comma-separated text.
func Default() domain.ResponseParser {
	return Chain{JSON{}, List{}}
}

// Chain tries each parser in order and returns the first result with entries.
type Chain []domain.ResponseParser

func (c Chain) Parse(text string) domain.Parsed {
	for _, p := range c {
		if p == nil {
			continue
		}
		if parsed := p.Parse(text); len(parsed.Entries) > 0 {
			return parsed
		}
	}
	return domain.Parsed{Explanation: repair(text)}
}

// List parses bulleted, numbered or comma-separated replies such as
// "1. Toyota Camry - reliable" or "Toyota Camry, Honda Accord". Items too
// long to be a car name are kept whole as prose entries.
type List struct{}

func (List) Parse(text string) domain.Parsed {
	raw := repair(text)
	lines := contentLines(raw)

	var marked []string
	for _, l := range lines {
		if listMarker.MatchString(l) {
			marked = append(marked, listMarker.ReplaceAllString(l, ""))
		}
	}

	var items []string
	if len(marked) > 0 {
		items = marked
	} else {
		for _, l := range lines {
			if strings.HasSuffix(l, ":") {
				continue
			}
			items = append(items, splitLine(l)...)
		}
	}

	entries := collect(items)
	if len(entries) == 0 {
		return domain.Parsed{Explanation: raw}
	}
	return domain.Parsed{Entries: entries}
}

// splitLine splits a comma-separated list. A line where any part reads as a
// sentence is returned whole.
func splitLine(l string) []string {
	parts := strings.Split(l, ",")
	for _, part := range parts {
		id, _ := splitRationale(part)
		if tooLong(cleanIdentifier(id)) {
			return []string{l}
		}
	}
	return parts
}

func collect(items []string) []domain.Entry {
	var out []domain.Entry
	seen := make(map[string]bool)
	for _, item := range items {
		id, why := splitRationale(item)
		id = cleanIdentifier(id)
		e := domain.Entry{Identifier: id, Rationale: strings.TrimSpace(why)}
		if tooLong(id) {
			e = domain.Entry{Identifier: strings.Join(strings.Fields(strings.ReplaceAll(item, "**", "")), " "), Prose: true}
		}
		if !hasLetter(e.Identifier) {
			continue
		}
		key := strings.ToLower(e.Identifier)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

func splitRationale(item string) (string, string) {
	item = strings.ReplaceAll(item, "**", "")
	cut := -1
	sepLen := 0
	for _, sep := range separators {
		if i := strings.Index(item, sep); i >= 0 && (cut < 0 || i < cut) {
			cut, sepLen = i, len(sep)
		}
	}
	if cut < 0 {
		return item, ""
	}
	return item[:cut], item[cut+sepLen:]
}

func cleanIdentifier(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`*_")
	s = strings.TrimRight(s, ".;!")
	s = trailingNote.ReplaceAllString(s, "")
	s = leadingYear.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

func validIdentifier(s string) bool { return !tooLong(s) && hasLetter(s) }

func tooLong(s string) bool {
	return utf8.RuneCountInString(s) > maxIdentifierRunes || len(strings.Fields(s)) > maxIdentifierWords
}

func hasLetter(s string) bool { return strings.IndexFunc(s, unicode.IsLetter) >= 0 }

// contentLines returns trimmed non-empty lines, skipping code fences and headings.
func contentLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "```") || strings.HasPrefix(l, "#") {
			continue
		}
		out = append(out, l)
	}
	return out
}

func repair(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, "\uFFFD"))
}
