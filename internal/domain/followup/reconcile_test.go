package followup

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/rtclinic/followup/internal/platform/tablestore"
)

func datePtr(y, m, d int) *civil.Date {
	v := date(y, m, d)
	return &v
}

func sampleForm() Form {
	return Form{
		MRN:                  " 123 ",
		DateOfBirth:          datePtr(1970, 5, 20),
		LastRadiotherapyDate: datePtr(2023, 1, 15),
		FollowUpDate:         datePtr(2023, 6, 1),
		Radiodermatitis:      "II",
		Telangiectasia:       No,
		BreastPain:           "None",
		CosmeticOutcome:      "Good",
		BreastShrinkage:      No,
		SurgeryForCosmetics:  No,
		TNMStage:             []string{"T1", "N0", "M0"},
		LocalRecurrence:      No,
		RegionalRecurrence:   No,
		DistantRecurrence:    No,
	}
}

func TestCompute(t *testing.T) {
	f := sampleForm()
	f.LocalRecurrence = Yes
	f.LocalRecurrenceDate = datePtr(2024, 2, 3)
	f.RegionalRecurrenceDate = datePtr(2024, 2, 3) // flag is No

	d := Compute(f, date(2024, 5, 19))

	if d.Age == nil || *d.Age != 53 {
		t.Errorf("expected age 53, got %v", d.Age)
	}
	if d.TimeSinceTreatment == nil || *d.TimeSinceTreatment != 5 {
		t.Errorf("expected 5 months since treatment, got %v", d.TimeSinceTreatment)
	}
	if d.TimeToLocalRecurrence == nil || *d.TimeToLocalRecurrence != 13 {
		t.Errorf("expected 13 months to local recurrence, got %v", d.TimeToLocalRecurrence)
	}
	if d.TimeToRegionalRecurrence != nil {
		t.Errorf("expected no regional interval when flag is No, got %d", *d.TimeToRegionalRecurrence)
	}
	if d.TimeToDistantRecurrence != nil {
		t.Errorf("expected no distant interval, got %d", *d.TimeToDistantRecurrence)
	}
}

func TestCompute_FollowUpDefaultsToToday(t *testing.T) {
	f := sampleForm()
	f.FollowUpDate = nil
	d := Compute(f, date(2023, 3, 1))
	if d.TimeSinceTreatment == nil || *d.TimeSinceTreatment != 2 {
		t.Errorf("expected 2 months, got %v", d.TimeSinceTreatment)
	}
}

func TestCompute_MissingDates(t *testing.T) {
	d := Compute(Form{MRN: "1"}, date(2024, 1, 1))
	if d.Age != nil || d.TimeSinceTreatment != nil {
		t.Errorf("expected nothing derived without dates, got %+v", d)
	}
}

func TestLookup_TrimsIdentifiers(t *testing.T) {
	tbl := tablestore.Table{
		Columns: []string{ColMRN, ColAge},
		Rows: []tablestore.Record{
			{ColMRN: "999", ColAge: "30"},
			{ColMRN: " 123 ", ColAge: "40"},
			{ColMRN: "123", ColAge: "41"},
		},
	}

	r, ok := Lookup(tbl, "123")
	if !ok {
		t.Fatal("expected lookup to find padded identifier")
	}
	if r[ColAge] != "40" {
		t.Errorf("expected first match, got %v", r)
	}

	if _, ok := Lookup(tbl, "  999\t"); !ok {
		t.Error("expected query to be trimmed")
	}
}

func TestLookup_Absent(t *testing.T) {
	tests := []struct {
		name string
		tbl  tablestore.Table
		mrn  string
	}{
		{"empty table", tablestore.Table{}, "1"},
		{"no MRN column", tablestore.Table{Columns: []string{"Other"}, Rows: []tablestore.Record{{"Other": "1"}}}, "1"},
		{"no match", tablestore.Table{Columns: []string{ColMRN}, Rows: []tablestore.Record{{ColMRN: "2"}}}, "1"},
		{"blank query", tablestore.Table{Columns: []string{ColMRN}, Rows: []tablestore.Record{{ColMRN: ""}}}, " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r, ok := Lookup(tt.tbl, tt.mrn); ok {
				t.Errorf("expected no match, got %v", r)
			}
		})
	}
}

func TestLookup_NumericCell(t *testing.T) {
	tbl := tablestore.Table{Columns: []string{ColMRN}, Rows: []tablestore.Record{{ColMRN: 123}}}
	if _, ok := Lookup(tbl, "123"); !ok {
		t.Error("expected integer identifier to match its string form")
	}
}

func TestHistory(t *testing.T) {
	tbl := tablestore.Table{
		Columns: []string{ColMRN, ColFollowUpDate},
		Rows: []tablestore.Record{
			{ColMRN: "1", ColFollowUpDate: "2023-01-01"},
			{ColMRN: "2", ColFollowUpDate: "2023-02-01"},
			{ColMRN: "1 ", ColFollowUpDate: "2023-06-01"},
		},
	}
	got := History(tbl, "1")
	if len(got) != 2 {
		t.Fatalf("expected 2 visits, got %d", len(got))
	}
	if got[1][ColFollowUpDate] != "2023-06-01" {
		t.Errorf("expected table order, got %v", got)
	}
}

func TestSafeScalar(t *testing.T) {
	r := tablestore.Record{
		"grade": "None",
		"blank": "",
		"nan":   "NaN",
		"nil":   nil,
		"age":   "52",
	}
	tests := []struct {
		field string
		want  any
	}{
		{"grade", "None"},
		{"blank", "dflt"},
		{"nan", "dflt"},
		{"nil", "dflt"},
		{"absent", "dflt"},
		{"age", "52"},
	}
	for _, tt := range tests {
		if got := SafeScalar(r, tt.field, "dflt"); got != tt.want {
			t.Errorf("SafeScalar(%q) = %v, want %v", tt.field, got, tt.want)
		}
	}
}

func TestSafeList_RoundTrip(t *testing.T) {
	in := []string{"T1", "N0", "M0"}
	r := tablestore.Record{ColTNMStage: tablestore.FlattenList(in)}

	got := SafeList(r, ColTNMStage)
	if !reflect.DeepEqual(got, in) {
		t.Errorf("expected %v, got %v", in, got)
	}
}

func TestSafeList(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want []string
	}{
		{"double quotes", `["T2", "N1"]`, []string{"T2", "N1"}},
		{"no brackets", "T1, N0", []string{"T1", "N0"}},
		{"empty tokens", "['T1', , '']", []string{"T1"}},
		{"empty list", "[]", []string{}},
		{"nan", "nan", []string{}},
		{"not a string", 42, []string{}},
		{"already a list", []string{"M1"}, []string{"M1"}},
		{"comma inside token is lost", "['a,b']", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeList(tablestore.Record{"f": tt.v}, "f")
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %#v, got %#v", tt.want, got)
			}
		})
	}

	if got := SafeList(tablestore.Record{}, "absent"); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestAssemble(t *testing.T) {
	f := sampleForm()
	f.DistantRecurrence = Yes
	f.DistantRecurrenceDate = datePtr(2024, 1, 10)

	r, err := Assemble(f, Compute(f, date(2024, 5, 19)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r[ColMRN] != "123" {
		t.Errorf("expected trimmed MRN, got %q", r[ColMRN])
	}
	if r[ColAge] != 53 || r[ColTimeSinceTreatment] != 5 {
		t.Errorf("unexpected derived values: age=%v since=%v", r[ColAge], r[ColTimeSinceTreatment])
	}
	if r[ColRadiodermatitis] != "II" || r[ColBreastPain] != "None" {
		t.Errorf("labels not copied verbatim: %v", r)
	}
	if !reflect.DeepEqual(r[ColTNMStage], []string{"T1", "N0", "M0"}) {
		t.Errorf("unexpected stage %v", r[ColTNMStage])
	}

	if r[ColLocalRecurrenceDate] != tablestore.NotApplicable || r[ColTimeToLocalRecurrence] != tablestore.NotApplicable {
		t.Errorf("expected N/A for local recurrence, got %v / %v", r[ColLocalRecurrenceDate], r[ColTimeToLocalRecurrence])
	}
	if r[ColDistantRecurrenceDate] != date(2024, 1, 10) {
		t.Errorf("expected distant recurrence date, got %v", r[ColDistantRecurrenceDate])
	}
	if r[ColTimeToDistantRecurrence] != 12 {
		t.Errorf("expected 12 months to distant recurrence, got %v", r[ColTimeToDistantRecurrence])
	}
}

func TestAssemble_FlagAndValueAgree(t *testing.T) {
	f := sampleForm()
	f.LocalRecurrence = Yes
	f.LocalRecurrenceDate = datePtr(2023, 9, 1)
	f.RegionalRecurrence = ""
	f.RegionalRecurrenceDate = datePtr(2023, 9, 1)

	r, err := Assemble(f, Compute(f, date(2024, 1, 1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, rec := range recurrences(f, Derived{}) {
		flag := r[rec.flagCol]
		na := r[rec.dateCol] == tablestore.NotApplicable && r[rec.monthCol] == tablestore.NotApplicable
		if flag == Yes && na {
			t.Errorf("%s is Yes but its values are N/A", rec.flagCol)
		}
		if flag == No && !na {
			t.Errorf("%s is No but values are %v / %v", rec.flagCol, r[rec.dateCol], r[rec.monthCol])
		}
	}
	if r[ColRegionalRecurrence] != No {
		t.Errorf("expected blank flag to default to No, got %v", r[ColRegionalRecurrence])
	}
}

func TestAssemble_YesWithoutDate(t *testing.T) {
	f := sampleForm()
	f.LocalRecurrence = Yes

	_, err := Assemble(f, Compute(f, date(2024, 1, 1)))

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != ColLocalRecurrenceDate {
		t.Errorf("expected field %s, got %s", ColLocalRecurrenceDate, verr.Field)
	}
}

func TestAssemble_NotCalculated(t *testing.T) {
	_, err := Assemble(sampleForm(), Derived{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestAssemble_YesWithoutInterval(t *testing.T) {
	f := sampleForm()
	f.LocalRecurrence = Yes
	f.LocalRecurrenceDate = datePtr(2023, 9, 1)

	// Derived computed before the flag was switched on.
	d := Compute(sampleForm(), date(2024, 1, 1))
	_, err := Assemble(f, d)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != ColTimeToLocalRecurrence {
		t.Fatalf("expected ValidationError on %s, got %v", ColTimeToLocalRecurrence, err)
	}
}

func TestAssemble_MissingMRN(t *testing.T) {
	f := sampleForm()
	f.MRN = "  "
	_, err := Assemble(f, Compute(f, date(2024, 1, 1)))
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != ColMRN {
		t.Fatalf("expected ValidationError on MRN, got %v", err)
	}
}

func TestPrefill_FromStoredRow(t *testing.T) {
	f := sampleForm()
	f.LocalRecurrence = Yes
	f.LocalRecurrenceDate = datePtr(2023, 9, 1)
	rec, err := Assemble(f, Compute(f, date(2024, 1, 1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate a write/read cycle: every cell comes back as a string.
	tbl := tablestore.FromGrid(tablestore.Table{}.WithColumns(Columns...).Append(rec).Grid())
	stored, ok := Lookup(tbl, "123")
	if !ok {
		t.Fatal("expected stored row")
	}

	got := Prefill(stored)

	if got.MRN != "123" || !reflect.DeepEqual(got.DateOfBirth, f.DateOfBirth) ||
		!reflect.DeepEqual(got.LastRadiotherapyDate, f.LastRadiotherapyDate) {
		t.Errorf("identity not restored: %+v", got)
	}
	if got.FollowUpDate != nil {
		t.Errorf("expected empty follow-up date, got %s", got.FollowUpDate)
	}
	if got.Radiodermatitis != "II" || got.BreastPain != "None" {
		t.Errorf("labels not restored: %+v", got)
	}
	if !reflect.DeepEqual(got.TNMStage, f.TNMStage) {
		t.Errorf("expected stage %v, got %v", f.TNMStage, got.TNMStage)
	}
	if got.LocalRecurrence != Yes || got.LocalRecurrenceDate == nil || *got.LocalRecurrenceDate != date(2023, 9, 1) {
		t.Errorf("local recurrence not restored: %s %v", got.LocalRecurrence, got.LocalRecurrenceDate)
	}
	if got.RegionalRecurrence != No || got.RegionalRecurrenceDate != nil {
		t.Errorf("expected regional No without date, got %s %v", got.RegionalRecurrence, got.RegionalRecurrenceDate)
	}
}

func TestPrefill_BlankDatesRoundTrip(t *testing.T) {
	got := Prefill(tablestore.Record{ColMRN: "123", ColDateOfBirth: ""})
	if got.DateOfBirth != nil || got.LastRadiotherapyDate != nil {
		t.Fatalf("expected unset dates, got %+v", got)
	}

	body, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var back Form
	if err := json.Unmarshal(body, &back); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if back.MRN != "123" || back.DateOfBirth != nil {
		t.Errorf("unexpected form after round trip: %+v", back)
	}
}

func TestForm_UnmarshalBlankDates(t *testing.T) {
	var f Form
	err := json.Unmarshal([]byte(`{"mrn":"9","date_of_birth":"","follow_up_date":" ","last_radiotherapy_date":"2023-01-15","local_recurrence_date":""}`), &f)
	if err == nil {
		t.Fatal("expected a whitespace date to be rejected")
	}

	f = Form{}
	err = json.Unmarshal([]byte(`{"mrn":"9","date_of_birth":"","last_radiotherapy_date":"2023-01-15","local_recurrence_date":""}`), &f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.DateOfBirth != nil || f.LocalRecurrenceDate != nil {
		t.Errorf("expected blank dates to be unset, got %+v", f)
	}
	if f.LastRadiotherapyDate == nil || *f.LastRadiotherapyDate != date(2023, 1, 15) {
		t.Errorf("expected treatment date, got %v", f.LastRadiotherapyDate)
	}
}

func TestPrefill_MissingColumnsUseDefaults(t *testing.T) {
	got := Prefill(tablestore.Record{ColMRN: "5", ColCosmeticOutcome: "nan"})
	if got.CosmeticOutcome != "Excellent" {
		t.Errorf("expected first option as default, got %q", got.CosmeticOutcome)
	}
	if got.Telangiectasia != No || got.LocalRecurrence != No {
		t.Errorf("expected No defaults, got %+v", got)
	}
	if len(got.TNMStage) != 0 {
		t.Errorf("expected empty stage, got %v", got.TNMStage)
	}
}
