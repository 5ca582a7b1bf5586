package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"carrec/internal/domain"
)

const sampleCSV = `Make,Model,Year,Vehicle Size Class,Combined MPG For Fuel Type1,Price,Unnamed: 0,Notes
Toyota,Corolla,2020,Compact Cars,33,20000,0,
Honda,Civic,2021,Compact Cars,34,21000,1,
Ford,F150,2019,Standard Pickup Trucks,20,35000,2,
Tesla,Model 3,2022,Midsize Cars,132,40000,3,
Toyota,Camry,n/a,Midsize Cars,31,oops,4,
Subaru,Outback,2020,Small Sport Utility Vehicle 4WD,28,29000,5,
Honda,Accord,2019,Midsize Cars,33,26000,6,
Mazda,CX-5,2021,Small Sport Utility Vehicle 4WD,27,27000,7,
`

func mustRead(t *testing.T, data string) *Dataset {
	t.Helper()
	d, err := Read(strings.NewReader(data), "sample.csv", ',')
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return d
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	headerOnly := filepath.Join(dir, "header.csv")
	if err := os.WriteFile(headerOnly, []byte("make,model,year\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "nope.csv")},
		{"header only", headerOnly},
		{"empty file", empty},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(tt.path)
			if !errors.Is(err, domain.ErrDataLoad) {
				t.Fatalf("Load(%s) error = %v, want ErrDataLoad", tt.name, err)
			}
		})
	}
}

func TestLoadTSVAndRaggedRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cars.tsv")
	data := "\ufeffMake\tModel\tYear\nToyota\tCorolla\t2020\nHonda\tCivic\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
	if !d.HasRole(RoleMake) {
		t.Fatalf("BOM-prefixed make header not detected: %v", d.Columns)
	}
	if _, ok := d.Number(d.Records[1], RoleYear); ok {
		t.Error("short row should have a missing year")
	}
}

func TestCleanNormalizesColumns(t *testing.T) {
	t.Parallel()

	d := Clean(mustRead(t, sampleCSV))
	want := []string{"make", "model", "year", "vehicle_size_class", "combined_mpg_for_fuel_type1", "price"}
	if !reflect.DeepEqual(d.Columns, want) {
		t.Fatalf("Columns = %v, want %v", d.Columns, want)
	}
	for _, role := range Roles {
		if !d.HasRole(role) {
			t.Errorf("role %s not detected", role)
		}
	}
}

func TestNormalizeColumnsDeduplicates(t *testing.T) {
	t.Parallel()

	got := normalizeColumns([]string{"A B", "a-b", " ", "a_b_2", "A  B"})
	want := []string{"a_b", "a_b_2", "column_3", "a_b_2_2", "a_b_3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("normalizeColumns() = %v, want %v", got, want)
	}
	if again := normalizeColumns(got); !reflect.DeepEqual(again, got) {
		t.Fatalf("normalizeColumns not stable: %v -> %v", got, again)
	}
}

func TestCleanMarksUnparseableAsMissing(t *testing.T) {
	t.Parallel()

	d := Clean(mustRead(t, sampleCSV))
	if d.Len() != 8 {
		t.Fatalf("Clean dropped rows: got %d, want 8", d.Len())
	}
	camry := d.Records[4]
	if _, ok := d.Number(camry, RoleYear); ok {
		t.Error("year n/a should be missing")
	}
	if _, ok := d.Number(camry, RolePrice); ok {
		t.Error("price oops should be missing")
	}
	if got := d.Text(camry, RoleModel); got != "Camry" {
		t.Errorf("model = %q, want Camry", got)
	}
}

func TestCleanClipsOutliers(t *testing.T) {
	t.Parallel()

	d := Clean(mustRead(t, sampleCSV))
	tesla := d.Records[3]
	mpg, ok := d.Number(tesla, RoleFuel)
	if !ok {
		t.Fatal("mpg missing")
	}
	if mpg >= 132 {
		t.Errorf("outlier mpg not clipped: %v", mpg)
	}
	corolla, _ := d.Number(d.Records[0], RoleFuel)
	if corolla != 33 {
		t.Errorf("in-range mpg changed: %v", corolla)
	}
	year, _ := d.Number(d.Records[2], RoleYear)
	if year != 2019 {
		t.Errorf("year column must not be clipped, got %v", year)
	}
}

func TestCleanIdempotent(t *testing.T) {
	t.Parallel()

	inputs := map[string]string{
		"sample": sampleCSV,
		"skewed": "make,model,mpg\na,x,0\nb,y,0\nc,z,100\n",
		"flat":   "make,model,mpg\na,x,5\nb,y,5\nc,z,5\nd,w,900\n",
		"messy": "Make , MODEL,Year,Year,extra col\n" +
			" Toyota ,Corolla ,2020,2020,1\n" +
			"Honda,Civic,twenty,2021,\n" +
			"Kia,Rio,2018,,3\n",
	}
	for name, data := range inputs {
		data := data
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			once := Clean(mustRead(t, data))
			twice := Clean(once)
			if !reflect.DeepEqual(once, twice) {
				t.Fatalf("Clean not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
			}
		})
	}
}

func TestCleanDropsSparseColumns(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("make,model,rare\n")
	for i := 0; i < 20; i++ {
		b.WriteString("Ford,Focus,\n")
	}
	b.WriteString("Ford,Focus,x\n")
	d := Clean(mustRead(t, b.String()))
	if !reflect.DeepEqual(d.Columns, []string{"make", "model"}) {
		t.Fatalf("Columns = %v", d.Columns)
	}
}

func TestFilterNoCriteriaIsIdentity(t *testing.T) {
	t.Parallel()

	d := Clean(mustRead(t, sampleCSV))
	if got := Filter(d, domain.FilterCriteria{}); !reflect.DeepEqual(got, d) {
		t.Fatal("Filter with no criteria changed the dataset")
	}
	blank := domain.FilterCriteria{Makes: []string{" "}}
	if got := Filter(d, blank); got.Len() != d.Len() {
		t.Fatalf("blank make filter removed rows: %d", got.Len())
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()

	d := Clean(mustRead(t, sampleCSV))
	tests := []struct {
		name     string
		criteria domain.FilterCriteria
		models   []string
	}{
		{"year range inclusive", domain.FilterCriteria{YearMin: 2020, YearMax: 2021}, []string{"Corolla", "Civic", "Outback", "CX-5"}},
		{"year min only", domain.FilterCriteria{YearMin: 2022}, []string{"Model 3"}},
		{"make case-insensitive", domain.FilterCriteria{Makes: []string{"toyota"}}, []string{"Corolla", "Camry"}},
		{"make exact not substring", domain.FilterCriteria{Makes: []string{"Toy"}}, nil},
		{"body and make ANDed", domain.FilterCriteria{Makes: []string{"Honda"}, BodyTypes: []string{"MIDSIZE CARS"}}, []string{"Accord"}},
		{"all three", domain.FilterCriteria{YearMin: 2019, YearMax: 2019, Makes: []string{"Ford", "Honda"}, BodyTypes: []string{"Standard Pickup Trucks"}}, []string{"F150"}},
		{"inverted range", domain.FilterCriteria{YearMin: 2022, YearMax: 2019}, nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Filter(d, tt.criteria)
			var models []string
			for _, rec := range got.Records {
				models = append(models, got.Text(rec, RoleModel))
			}
			if !reflect.DeepEqual(models, tt.models) {
				t.Errorf("models = %v, want %v", models, tt.models)
			}
			assertSubset(t, d, got)
		})
	}
}

func assertSubset(t *testing.T, d, sub *Dataset) {
	t.Helper()
	byIndex := make(map[int]Record, d.Len())
	for _, rec := range d.Records {
		byIndex[rec.Index] = rec
	}
	for _, rec := range sub.Records {
		orig, ok := byIndex[rec.Index]
		if !ok || !reflect.DeepEqual(orig, rec) {
			t.Errorf("row %d is not a row of the source dataset", rec.Index)
		}
	}
}

func TestFilterIgnoresAbsentColumns(t *testing.T) {
	t.Parallel()

	d := Clean(mustRead(t, "make,model\nToyota,Corolla\nHonda,Civic\n"))
	got := Filter(d, domain.FilterCriteria{YearMin: 2000, BodyTypes: []string{"Sedan"}})
	if got.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", got.Len())
	}
}

func TestVehicleAndDistinct(t *testing.T) {
	t.Parallel()

	d := Clean(mustRead(t, "make,model,year,trany\nToyota,Corolla,2020,Auto\nHonda,Civic,2021,Manual\nToyota,Camry,2018,Auto\n"))
	v := d.Vehicle(d.Records[0])
	if v.Name() != "Toyota Corolla" || v.Year != 2020 || !v.HasYear {
		t.Fatalf("Vehicle() = %+v", v)
	}
	if len(v.Extra) != 1 || v.Extra[0] != (domain.Field{Name: "trany", Value: "Auto"}) {
		t.Errorf("Extra = %+v", v.Extra)
	}
	if got := d.Distinct(RoleMake); !reflect.DeepEqual(got, []string{"Honda", "Toyota"}) {
		t.Errorf("Distinct(make) = %v", got)
	}
	lo, hi, ok := d.YearBounds()
	if !ok || lo != 2018 || hi != 2021 {
		t.Errorf("YearBounds() = %d, %d, %v", lo, hi, ok)
	}
}
