package insights

import "carrec/internal/dataset"

// Overview is the headline summary of a dataset.
type Overview struct {
	Total        int     `json:"total"`
	Makes        int     `json:"makes"`
	TopBodyTypes []Point `json:"top_body_types"`
	YearMin      int     `json:"year_min,omitempty"`
	YearMax      int     `json:"year_max,omitempty"`
}

// Summary computes the overview of d.
func Summary(d *dataset.Dataset) Overview {
	if d == nil {
		return Overview{}
	}
	o := Overview{
		Total:        d.Len(),
		Makes:        len(d.Distinct(dataset.RoleMake)),
		TopBodyTypes: head(byCount(counts(d, dataset.RoleBodyType)), overviewTopBodyTypes),
	}
	if lo, hi, ok := d.YearBounds(); ok {
		o.YearMin, o.YearMax = lo, hi
	}
	return o
}
