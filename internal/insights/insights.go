// Package insights derives chart-ready aggregates from a dataset. All
// functions are pure: the same dataset always yields the same series.
package insights

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"carrec/internal/dataset"
)

// Metric names an aggregate.
type Metric string

const (
	MetricBodyType    Metric = "body_type"
	MetricYear        Metric = "year"
	MetricMake        Metric = "make"
	MetricFuelByYear  Metric = "fuel_efficiency_by_year"
	MetricFuelByMake  Metric = "fuel_efficiency_by_make"
	MetricPriceByMake Metric = "price_by_make"
)

const (
	topMakes             = 10
	overviewTopBodyTypes = 5
)

// Metrics lists every supported metric.
var Metrics = []Metric{MetricBodyType, MetricYear, MetricMake, MetricFuelByYear, MetricFuelByMake, MetricPriceByMake}

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Metrics {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// Point is one labeled value. Count is the number of rows behind it.
type Point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// Series is an ordered list of points plus axis labels.
type Series struct {
	Metric Metric  `json:"metric"`
	Title  string  `json:"title"`
	XLabel string  `json:"x_label"`
	YLabel string  `json:"y_label"`
	Points []Point `json:"points"`
}

// Empty reports whether the series has no points.
func (s Series) Empty() bool { return len(s.Points) == 0 }

// Summarize computes metric m over d. Missing columns or an empty dataset
// yield an empty series.
func Summarize(d *dataset.Dataset, m Metric) Series {
	s := Series{Metric: m}
	switch m {
	case MetricBodyType:
		s.Title, s.XLabel, s.YLabel = "Cars by body type", "Body type", "Cars"
		s.Points = byCount(counts(d, dataset.RoleBodyType))
	case MetricYear:
		s.Title, s.XLabel, s.YLabel = "Cars by year", "Year", "Cars"
		s.Points = byYear(d, nil)
	case MetricMake:
		s.Title, s.XLabel, s.YLabel = "Top manufacturers", "Manufacturer", "Cars"
		s.Points = head(byCount(counts(d, dataset.RoleMake)), topMakes)
	case MetricFuelByYear:
		s.Title, s.XLabel, s.YLabel = "Fuel efficiency by year", "Year", "Mean MPG"
		if d.HasRole(dataset.RoleFuel) {
			s.Points = byYear(d, mean(d, dataset.RoleFuel))
		}
	case MetricFuelByMake:
		s.Title, s.XLabel, s.YLabel = "Fuel efficiency by manufacturer", "Manufacturer", "Mean MPG"
		s.Points = byTopMake(d, dataset.RoleFuel, meanOf)
	case MetricPriceByMake:
		s.Title, s.XLabel, s.YLabel = "Price by manufacturer", "Manufacturer", "Median price"
		s.Points = byTopMake(d, dataset.RolePrice, median)
	}
	return s
}

type group struct {
	label string
	rows  []dataset.Record
}

func groupBy(d *dataset.Dataset, role dataset.Role) map[string]*group {
	out := make(map[string]*group)
	if !d.HasRole(role) {
		return out
	}
	for _, rec := range d.Records {
		label := d.Text(rec, role)
		if label == "" {
			continue
		}
		g, ok := out[label]
		if !ok {
			g = &group{label: label}
			out[label] = g
		}
		g.rows = append(g.rows, rec)
	}
	return out
}

func counts(d *dataset.Dataset, role dataset.Role) []Point {
	groups := groupBy(d, role)
	pts := make([]Point, 0, len(groups))
	for _, g := range groups {
		pts = append(pts, Point{Label: g.label, Value: float64(len(g.rows)), Count: len(g.rows)})
	}
	return pts
}

// byCount orders by descending count, then label.
func byCount(pts []Point) []Point {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Count != pts[j].Count {
			return pts[i].Count > pts[j].Count
		}
		return pts[i].Label < pts[j].Label
	})
	return pts
}

func head(pts []Point, n int) []Point {
	if len(pts) > n {
		return pts[:n]
	}
	return pts
}

type reducer func(values []float64) float64

// byYear groups rows by integer year in ascending order. A nil value
// function counts rows instead.
func byYear(d *dataset.Dataset, value func([]dataset.Record) (float64, int)) []Point {
	if !d.HasRole(dataset.RoleYear) {
		return nil
	}
	years := make(map[int][]dataset.Record)
	for _, rec := range d.Records {
		if y, ok := d.Number(rec, dataset.RoleYear); ok {
			years[int(y)] = append(years[int(y)], rec)
		}
	}
	keys := make([]int, 0, len(years))
	for y := range years {
		keys = append(keys, y)
	}
	sort.Ints(keys)

	pts := make([]Point, 0, len(keys))
	for _, y := range keys {
		rows := years[y]
		p := Point{Label: strconv.Itoa(y), Value: float64(len(rows)), Count: len(rows)}
		if value != nil {
			v, n := value(rows)
			if n == 0 {
				continue
			}
			p.Value, p.Count = v, n
		}
		pts = append(pts, p)
	}
	return pts
}

func mean(d *dataset.Dataset, role dataset.Role) func([]dataset.Record) (float64, int) {
	return func(rows []dataset.Record) (float64, int) {
		vals := numbers(d, rows, role)
		return meanOf(vals), len(vals)
	}
}

// byTopMake reduces role over the ten most common manufacturers, keeping
// their popularity order.
func byTopMake(d *dataset.Dataset, role dataset.Role, reduce reducer) []Point {
	if !d.HasRole(role) {
		return nil
	}
	groups := groupBy(d, dataset.RoleMake)
	top := head(byCount(counts(d, dataset.RoleMake)), topMakes)
	pts := make([]Point, 0, len(top))
	for _, t := range top {
		vals := numbers(d, groups[t.Label].rows, role)
		if len(vals) == 0 {
			continue
		}
		pts = append(pts, Point{Label: t.Label, Value: reduce(vals), Count: len(vals)})
	}
	return pts
}

func numbers(d *dataset.Dataset, rows []dataset.Record, role dataset.Role) []float64 {
	out := make([]float64, 0, len(rows))
	for _, rec := range rows {
		if v, ok := d.Number(rec, role); ok {
			out = append(out, v)
		}
	}
	return out
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// Bars renders the series as a horizontal text bar chart whose longest bar
// is width cells wide. Zero, negative and non-finite values get an empty bar.
func (s Series) Bars(width int) string {
	if s.Empty() {
		return ""
	}
	if width <= 0 {
		width = 40
	}
	labelWidth, maxVal := 0, 0.0
	for _, p := range s.Points {
		labelWidth = max(labelWidth, len([]rune(p.Label)))
		if !math.IsInf(p.Value, 0) {
			maxVal = math.Max(maxVal, p.Value)
		}
	}
	labelWidth = min(labelWidth, 28)

	var b strings.Builder
	for _, p := range s.Points {
		label := []rune(p.Label)
		if len(label) > labelWidth {
			label = append(label[:labelWidth-1], '…')
		}
		// bars scale to the largest value; non-positive values draw none
		n := 0
		if maxVal > 0 && p.Value > 0 && !math.IsInf(p.Value, 0) {
			n = min(width, int(math.Round(p.Value/maxVal*float64(width))))
		}
		fmt.Fprintf(&b, "%-*s │%s %s\n", labelWidth, string(label), strings.Repeat("█", n), formatValue(p.Value))
	}
	return b.String()
}

func formatValue(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
