// Package dataset holds the in-memory vehicle table: CSV loading, idempotent
// cleaning and attribute filtering.
package dataset

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"carrec/internal/domain"
)

// Role names a column the application understands regardless of the header
// spelling used by a particular CSV export.
type Role string

const (
	RoleMake     Role = "make"
	RoleModel    Role = "model"
	RoleYear     Role = "year"
	RoleBodyType Role = "body_type"
	RoleFuel     Role = "fuel_efficiency"
	RolePrice    Role = "price"
)

// Roles lists every role in display order.
var Roles = []Role{RoleMake, RoleModel, RoleYear, RoleBodyType, RoleFuel, RolePrice}

// roleAliases maps each role to accepted normalized column names, most specific first.
var roleAliases = map[Role][]string{
	RoleMake:     {"make", "manufacturer", "brand"},
	RoleModel:    {"model", "model_name"},
	RoleYear:     {"year", "model_year"},
	RoleBodyType: {"vehicle_size_class", "body_type", "body", "vehicle_class", "size_class", "class"},
	RoleFuel:     {"combined_mpg_for_fuel_type1", "comb08", "combined_mpg", "mpg", "fuel_efficiency"},
	RolePrice:    {"price", "msrp", "base_price"},
}

// numericRoles are coerced to numbers even when most cells fail to parse.
var numericRoles = map[Role]bool{RoleYear: true, RoleFuel: true, RolePrice: true}

// Value is one cell. Missing marks absent or unparseable data.
type Value struct {
	Text    string
	Num     float64
	Numeric bool
	Missing bool
}

// Record is one row. Index is its position in the table it was loaded into and
// survives filtering, so it can be used to refer back to the source row.
type Record struct {
	Index  int
	Values []Value
}

// Dataset is an ordered table of vehicle records.
type Dataset struct {
	Name    string
	Columns []string
	Records []Record
	roles   map[Role]int
}

// New builds a dataset and detects role columns from the header.
func New(name string, columns []string, records []Record) *Dataset {
	return &Dataset{
		Name:    name,
		Columns: columns,
		Records: records,
		roles:   detectRoles(columns),
	}
}

func detectRoles(columns []string) map[Role]int {
	byName := make(map[string]int, len(columns))
	for i, c := range columns {
		n := normalizeName(c)
		if _, dup := byName[n]; !dup {
			byName[n] = i
		}
	}
	roles := make(map[Role]int)
	for _, role := range Roles {
		for _, alias := range roleAliases[role] {
			if idx, ok := byName[alias]; ok {
				roles[role] = idx
				break
			}
		}
	}
	return roles
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// Column returns the column index bound to a role.
func (d *Dataset) Column(r Role) (int, bool) {
	if d == nil {
		return 0, false
	}
	idx, ok := d.roles[r]
	return idx, ok
}

// HasRole reports whether the dataset carries a column for the role.
func (d *Dataset) HasRole(r Role) bool {
	_, ok := d.Column(r)
	return ok
}

// Text returns the trimmed text for a role, or "" when missing.
func (d *Dataset) Text(rec Record, r Role) string {
	idx, ok := d.Column(r)
	if !ok || idx >= len(rec.Values) {
		return ""
	}
	v := rec.Values[idx]
	if v.Missing {
		return ""
	}
	return strings.TrimSpace(v.Text)
}

// Number returns the numeric value for a role.
func (d *Dataset) Number(rec Record, r Role) (float64, bool) {
	idx, ok := d.Column(r)
	if !ok || idx >= len(rec.Values) {
		return 0, false
	}
	return rec.Values[idx].Float()
}

// Float returns the number held by the cell, parsing raw text if the cell has
// not been coerced yet.
func (v Value) Float() (float64, bool) {
	if v.Missing {
		return 0, false
	}
	if v.Numeric {
		return v.Num, true
	}
	return parseNumber(v.Text)
}

// Vehicle returns the display view of a record.
func (d *Dataset) Vehicle(rec Record) domain.Vehicle {
	v := domain.Vehicle{
		Index:    rec.Index,
		Make:     d.Text(rec, RoleMake),
		Model:    d.Text(rec, RoleModel),
		BodyType: d.Text(rec, RoleBodyType),
	}
	if y, ok := d.Number(rec, RoleYear); ok {
		v.Year, v.HasYear = int(y), true
	}
	v.FuelEfficiency, v.HasFuel = d.Number(rec, RoleFuel)
	v.Price, v.HasPrice = d.Number(rec, RolePrice)

	bound := make(map[int]bool, len(d.roles))
	for _, idx := range d.roles {
		bound[idx] = true
	}
	for i, name := range d.Columns {
		if bound[i] || i >= len(rec.Values) || rec.Values[i].Missing {
			continue
		}
		v.Extra = append(v.Extra, domain.Field{Name: name, Value: rec.Values[i].Text})
	}
	return v
}

// Distinct returns sorted distinct non-empty values of a role column.
func (d *Dataset) Distinct(r Role) []string {
	if !d.HasRole(r) {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, rec := range d.Records {
		s := d.Text(rec, r)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// YearBounds returns the smallest and largest model year present.
func (d *Dataset) YearBounds() (lo, hi int, ok bool) {
	if d == nil {
		return 0, 0, false
	}
	for _, rec := range d.Records {
		y, has := d.Number(rec, RoleYear)
		if !has {
			continue
		}
		yi := int(y)
		if !ok || yi < lo {
			lo = yi
		}
		if !ok || yi > hi {
			hi = yi
		}
		ok = true
	}
	return lo, hi, ok
}

func (d *Dataset) withRecords(records []Record) *Dataset {
	roles := make(map[Role]int, len(d.roles))
	for k, v := range d.roles {
		roles[k] = v
	}
	return &Dataset{Name: d.Name, Columns: d.Columns, Records: records, roles: roles}
}

var numberReplacer = strings.NewReplacer("$", "", ",", "", "%", "", " ", "", "\u00a0", "")

func parseNumber(s string) (float64, bool) {
	raw := numberReplacer.Replace(strings.TrimSpace(s))
	if raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
