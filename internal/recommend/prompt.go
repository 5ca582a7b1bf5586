package recommend

import (
	"fmt"
	"strings"

	"carrec/internal/dataset"
)

// maxPromptColumns bounds the table width when the dataset has no known roles.
const maxPromptColumns = 8

// Sample returns at most limit records of d, picking rows i*n/limit so the
// same dataset always yields the same prompt.
func Sample(d *dataset.Dataset, limit int) []dataset.Record {
	n := d.Len()
	if limit <= 0 || n <= limit {
		return d.Records
	}
	out := make([]dataset.Record, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, d.Records[i*n/limit])
	}
	return out
}

// BuildPrompt renders the requirement text and a pipe-separated table of
// candidate rows into the instruction sent to the model.
func BuildPrompt(requirements string, d *dataset.Dataset, candidateCap, topN int) string {
	cols := promptColumns(d)
	rows := Sample(d, candidateCap)

	var b strings.Builder
	b.WriteString("You are an automotive expert helping a buyer choose a car.\n\n")
	fmt.Fprintf(&b, "The dataset has %d matching cars. A sample of %d follows:\n\n", d.Len(), len(rows))

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = d.Columns[c]
	}
	b.WriteString(strings.Join(names, " | "))
	b.WriteByte('\n')
	for _, rec := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			if c < len(rec.Values) && !rec.Values[c].Missing {
				cells[i] = cellText(rec.Values[c].Text)
			}
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteByte('\n')
	}

	b.WriteString("\nThe buyer's requirements:\n")
	b.WriteString(strings.TrimSpace(requirements))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Recommend %d DIFFERENT make/model pairs from the dataset that best fit these requirements. ", topN)
	b.WriteString("Do not list several years of the same model. Weigh price, fuel efficiency, body type and anything else the buyer mentions.\n")
	b.WriteString("Answer with a numbered list, one car per line, written as \"Make Model - short reason\" ")
	b.WriteString("(for example \"1. Toyota Camry - reliable midsize sedan\"), with no other text.\n")
	return b.String()
}

func promptColumns(d *dataset.Dataset) []int {
	var cols []int
	for _, role := range dataset.Roles {
		if idx, ok := d.Column(role); ok {
			cols = append(cols, idx)
		}
	}
	if len(cols) > 0 {
		return cols
	}
	for i := range d.Columns {
		if i == maxPromptColumns {
			break
		}
		cols = append(cols, i)
	}
	return cols
}

func cellText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", "/")
}
