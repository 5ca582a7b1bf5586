package dataset

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

const (
	// numericShare is the fraction of non-missing cells that must parse for a
	// column without a numeric role to be treated as numeric.
	numericShare = 0.9
	// sparseShare drops columns whose missing fraction exceeds it.
	sparseShare = 0.9
	// outlierIQR is the clip distance from the median in interquartile ranges.
	// It must stay >= 1 for clipping to be a fixed point.
	outlierIQR = 1.5
)

var missingTokens = map[string]bool{
	"": true, "na": true, "n/a": true, "nan": true, "null": true, "none": true, "-": true,
}

// Clean returns a normalized copy of d. Applying it to its own output is a no-op.
func Clean(d *Dataset) *Dataset {
	if d == nil {
		return nil
	}
	columns := normalizeColumns(d.Columns)
	records := make([]Record, len(d.Records))
	for i, rec := range d.Records {
		values := make([]Value, len(columns))
		for j := range values {
			if j < len(rec.Values) {
				values[j] = trimValue(rec.Values[j])
			} else {
				values[j] = Value{Missing: true}
			}
		}
		records[i] = Record{Index: rec.Index, Values: values}
	}
	out := New(d.Name, columns, records)

	roleOf := make(map[int]Role, len(out.roles))
	for role, idx := range out.roles {
		roleOf[idx] = role
	}
	for j := range columns {
		role, isRole := roleOf[j]
		if (isRole && numericRoles[role]) || mostlyNumeric(records, j) {
			coerceColumn(records, j)
		}
	}

	out = dropColumns(out, roleOf)

	yearIdx, hasYear := out.Column(RoleYear)
	for j := range out.Columns {
		if hasYear && j == yearIdx {
			continue
		}
		clipColumn(out.Records, j)
	}
	return out
}

// normalizeName lowercases a header and collapses non-alphanumeric runs to "_".
func normalizeName(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

func normalizeColumns(cols []string) []string {
	out := make([]string, len(cols))
	taken := make(map[string]bool, len(cols))
	for i, c := range cols {
		n := normalizeName(c)
		if n == "" {
			n = "column_" + strconv.Itoa(i+1)
		}
		if taken[n] {
			base := n
			for k := 2; taken[n]; k++ {
				n = base + "_" + strconv.Itoa(k)
			}
		}
		taken[n] = true
		out[i] = n
	}
	return out
}

func trimValue(v Value) Value {
	if v.Missing {
		return Value{Missing: true}
	}
	if v.Numeric {
		return v
	}
	t := strings.TrimSpace(v.Text)
	if missingTokens[strings.ToLower(t)] {
		return Value{Missing: true}
	}
	return Value{Text: t}
}

func mostlyNumeric(records []Record, col int) bool {
	present, numeric := 0, 0
	for _, rec := range records {
		v := rec.Values[col]
		if v.Missing {
			continue
		}
		present++
		if _, ok := v.Float(); ok {
			numeric++
		}
	}
	return present > 0 && float64(numeric) >= numericShare*float64(present)
}

func coerceColumn(records []Record, col int) {
	for i := range records {
		v := records[i].Values[col]
		if v.Missing || v.Numeric {
			continue
		}
		f, ok := parseNumber(v.Text)
		if !ok {
			records[i].Values[col] = Value{Missing: true}
			continue
		}
		records[i].Values[col] = Value{Text: v.Text, Num: f, Numeric: true}
	}
}

func dropColumns(d *Dataset, roleOf map[int]Role) *Dataset {
	if len(d.Records) == 0 {
		return d
	}
	keep := make([]int, 0, len(d.Columns))
	for j, name := range d.Columns {
		if _, isRole := roleOf[j]; isRole {
			keep = append(keep, j)
			continue
		}
		if strings.HasPrefix(name, "unnamed") {
			continue
		}
		missing := 0
		for _, rec := range d.Records {
			if rec.Values[j].Missing {
				missing++
			}
		}
		if float64(missing) > sparseShare*float64(len(d.Records)) {
			continue
		}
		keep = append(keep, j)
	}
	if len(keep) == len(d.Columns) {
		return d
	}
	columns := make([]string, len(keep))
	for k, j := range keep {
		columns[k] = d.Columns[j]
	}
	records := make([]Record, len(d.Records))
	for i, rec := range d.Records {
		values := make([]Value, len(keep))
		for k, j := range keep {
			values[k] = rec.Values[j]
		}
		records[i] = Record{Index: rec.Index, Values: values}
	}
	return New(d.Name, columns, records)
}

// clipColumn pulls numeric values beyond median ± outlierIQR·IQR onto the
// nearest bound. Quartiles are nearest-rank order statistics, so clipped values
// never move a quartile and a second pass finds nothing to clip.
func clipColumn(records []Record, col int) {
	var vals []float64
	for _, rec := range records {
		v := rec.Values[col]
		if v.Numeric && !v.Missing {
			vals = append(vals, v.Num)
		}
	}
	if len(vals) == 0 {
		return
	}
	sort.Float64s(vals)
	q1, med, q3 := rankQuantile(vals, 0.25), rankQuantile(vals, 0.5), rankQuantile(vals, 0.75)
	iqr := q3 - q1
	if iqr <= 0 {
		return
	}
	lo, hi := med-outlierIQR*iqr, med+outlierIQR*iqr
	for i := range records {
		v := records[i].Values[col]
		if !v.Numeric || v.Missing {
			continue
		}
		clipped := math.Min(math.Max(v.Num, lo), hi)
		if clipped != v.Num {
			records[i].Values[col] = Value{
				Text:    strconv.FormatFloat(clipped, 'f', -1, 64),
				Num:     clipped,
				Numeric: true,
			}
		}
	}
}

func rankQuantile(sorted []float64, q float64) float64 {
	return sorted[int(q*float64(len(sorted)-1))]
}
