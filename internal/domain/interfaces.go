package domain

import (
	"context"
	"strconv"
	"strings"
)

// Vehicle is the display view of one dataset row.
type Vehicle struct {
	Index          int
	Make           string
	Model          string
	Year           int
	HasYear        bool
	BodyType       string
	FuelEfficiency float64
	HasFuel        bool
	Price          float64
	HasPrice       bool
	Extra          []Field
}

// Name returns "Make Model", or whichever half is present.
func (v Vehicle) Name() string {
	switch {
	case v.Make != "" && v.Model != "":
		return v.Make + " " + v.Model
	case v.Make != "":
		return v.Make
	default:
		return v.Model
	}
}

// Details renders the known attributes as "2020, Compact Cars, 33 mpg, $20,000".
func (v Vehicle) Details() string {
	var parts []string
	if v.HasYear {
		parts = append(parts, strconv.Itoa(v.Year))
	}
	if v.BodyType != "" {
		parts = append(parts, v.BodyType)
	}
	if v.HasFuel {
		parts = append(parts, strconv.FormatFloat(v.FuelEfficiency, 'f', -1, 64)+" mpg")
	}
	if v.HasPrice {
		parts = append(parts, "$"+groupThousands(int64(v.Price+0.5)))
	}
	return strings.Join(parts, ", ")
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	if n < 0 {
		return "-" + groupThousands(-n)
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

// Field is a passthrough column shown alongside the core attributes.
type Field struct {
	Name  string
	Value string
}

// FilterCriteria narrows the dataset. Zero values mean "no constraint".
type FilterCriteria struct {
	YearMin   int      `json:"year_min,omitempty" yaml:"year_min"`
	YearMax   int      `json:"year_max,omitempty" yaml:"year_max"`
	Makes     []string `json:"makes,omitempty" yaml:"makes"`
	BodyTypes []string `json:"body_types,omitempty" yaml:"body_types"`
}

// IsZero reports whether no criterion is set.
func (c FilterCriteria) IsZero() bool {
	return c.YearMin == 0 && c.YearMax == 0 && len(c.Makes) == 0 && len(c.BodyTypes) == 0
}

// Prompt is a single request to a text-generation service.
type Prompt struct {
	Text        string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generator submits a prompt to a hosted language model and returns its reply text.
type Generator interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Entry is one candidate identifier extracted from model output. Prose
// entries hold a whole sentence that may mention cars by model name.
type Entry struct {
	Identifier string
	Rationale  string
	Prose      bool
}

// Parsed is the structured view of a model reply. Explanation carries the raw
// text when no structure could be recognized.
type Parsed struct {
	Entries     []Entry
	Explanation string
}

// ResponseParser turns free text into entries. Implementations must never fail.
type ResponseParser interface {
	Parse(text string) Parsed
}

// Recommendation is a resolved dataset row with its rank (1 = best).
type Recommendation struct {
	Vehicle    Vehicle
	Rank       int
	Identifier string
	Rationale  string
}

// RecommendationResult is the outcome of one pipeline run.
type RecommendationResult struct {
	RequestID       string
	Recommendations []Recommendation
	Explanation     string
	Unresolved      []string
	Attempts        int
	Candidates      int
}

// Empty reports whether nothing could be resolved.
func (r *RecommendationResult) Empty() bool {
	return r == nil || len(r.Recommendations) == 0
}
