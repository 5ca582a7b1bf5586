package dataset

import (
	"strings"

	"carrec/internal/domain"
)

// Filter returns the records of d satisfying every criterion in c. Criteria
// whose column is absent from the dataset are ignored. Rows without a year are
// excluded once a year bound is set.
func Filter(d *Dataset, c domain.FilterCriteria) *Dataset {
	if d == nil || c.IsZero() {
		return d
	}
	makes := toLowerSet(c.Makes)
	bodies := toLowerSet(c.BodyTypes)
	checkYear := (c.YearMin != 0 || c.YearMax != 0) && d.HasRole(RoleYear)
	checkMake := len(makes) > 0 && d.HasRole(RoleMake)
	checkBody := len(bodies) > 0 && d.HasRole(RoleBodyType)

	out := make([]Record, 0, len(d.Records))
	for _, rec := range d.Records {
		if checkYear {
			y, ok := d.Number(rec, RoleYear)
			if !ok {
				continue
			}
			if c.YearMin != 0 && int(y) < c.YearMin {
				continue
			}
			if c.YearMax != 0 && int(y) > c.YearMax {
				continue
			}
		}
		if checkMake && !makes[strings.ToLower(d.Text(rec, RoleMake))] {
			continue
		}
		if checkBody && !bodies[strings.ToLower(d.Text(rec, RoleBodyType))] {
			continue
		}
		out = append(out, rec)
	}
	return d.withRecords(out)
}

func toLowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = true
		}
	}
	return set
}
