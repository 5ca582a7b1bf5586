package tui

import (
	"fmt"
	"strconv"
	"strings"

	"carrec/internal/domain"
)

// ParseFilters reads a filter line of ";"-separated clauses:
//
//	year=2018-2022; make=Toyota,Land Rover; body=Midsize Cars
//
// "year=2020" pins one year, "year=2018-" and "year=-2022" leave one side
// open. An empty line clears every filter.
func ParseFilters(line string) (domain.FilterCriteria, error) {
	var c domain.FilterCriteria
	for _, clause := range strings.Split(line, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		key, val, ok := strings.Cut(clause, "=")
		if !ok {
			return domain.FilterCriteria{}, fmt.Errorf("filter %q: expected key=value", clause)
		}
		val = strings.TrimSpace(val)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "year", "years":
			lo, hi, err := parseYears(val)
			if err != nil {
				return domain.FilterCriteria{}, err
			}
			c.YearMin, c.YearMax = lo, hi
		case "make", "makes", "brand":
			c.Makes = splitList(val)
		case "body", "body_type", "class":
			c.BodyTypes = splitList(val)
		default:
			return domain.FilterCriteria{}, fmt.Errorf("unknown filter %q (use year, make or body)", key)
		}
	}
	return c, nil
}

func parseYears(s string) (int, int, error) {
	from, to, isRange := strings.Cut(s, "-")
	if !isRange {
		to = from
	}
	lo, err := parseYear(from)
	if err != nil {
		return 0, 0, err
	}
	hi, err := parseYear(to)
	if err != nil {
		return 0, 0, err
	}
	if lo != 0 && hi != 0 && lo > hi {
		return 0, 0, fmt.Errorf("year range %d-%d is reversed", lo, hi)
	}
	return lo, hi, nil
}

func parseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	y, err := strconv.Atoi(s)
	if err != nil || y < 1886 || y > 9999 {
		return 0, fmt.Errorf("invalid year %q", s)
	}
	return y, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
