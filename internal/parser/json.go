package parser

import (
	"strings"

	"github.com/goccy/go-json"

	"carrec/internal/domain"
)

// JSON parses replies that embed a JSON array of cars, either as strings or
// objects, optionally wrapped in {"recommendations": [...]} and code fences.
type JSON struct{}

type jsonItem struct {
	Make       string `json:"make"`
	Model      string `json:"model"`
	Name       string `json:"name"`
	Car        string `json:"car"`
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
	Rationale  string `json:"rationale"`
}

func (it *jsonItem) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &it.Name)
	}
	type plain jsonItem
	return json.Unmarshal(b, (*plain)(it))
}

func (it jsonItem) identifier() string {
	switch {
	case it.Make != "" || it.Model != "":
		return strings.TrimSpace(it.Make + " " + it.Model)
	case it.Identifier != "":
		return it.Identifier
	case it.Car != "":
		return it.Car
	default:
		return it.Name
	}
}

type jsonEnvelope struct {
	Recommendations []jsonItem `json:"recommendations"`
	Cars            []jsonItem `json:"cars"`
}

func (JSON) Parse(text string) domain.Parsed {
	raw := repair(text)
	items, ok := decodeItems(raw)
	if !ok {
		return domain.Parsed{Explanation: raw}
	}

	var out []domain.Entry
	seen := make(map[string]bool)
	for _, it := range items {
		id := cleanIdentifier(it.identifier())
		if !validIdentifier(id) || seen[strings.ToLower(id)] {
			continue
		}
		seen[strings.ToLower(id)] = true
		why := it.Rationale
		if why == "" {
			why = it.Reason
		}
		out = append(out, domain.Entry{Identifier: id, Rationale: strings.TrimSpace(why)})
	}
	if len(out) == 0 {
		return domain.Parsed{Explanation: raw}
	}
	return domain.Parsed{Entries: out}
}

func decodeItems(s string) ([]jsonItem, bool) {
	if start, end := strings.IndexByte(s, '['), strings.LastIndexByte(s, ']'); start >= 0 && end > start {
		obj := strings.IndexByte(s, '{')
		if obj < 0 || start < obj {
			var items []jsonItem
			if err := json.Unmarshal([]byte(s[start:end+1]), &items); err == nil {
				return items, true
			}
		}
	}
	if start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); start >= 0 && end > start {
		var env jsonEnvelope
		if err := json.Unmarshal([]byte(s[start:end+1]), &env); err == nil {
			if len(env.Recommendations) > 0 {
				return env.Recommendations, true
			}
			if len(env.Cars) > 0 {
				return env.Cars, true
			}
		}
	}
	return nil, false
}
