package followup

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/rtclinic/followup/internal/platform/tablestore"
)

// ValidationError rejects a submission before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compute derives age and the elapsed-month intervals from the form's dates.
// Age is taken on today. Intervals are counted from the last radiotherapy
// date; a recurrence interval is only computed when its flag is "Yes" and a
// date was given.
func Compute(f Form, today civil.Date) Derived {
	var d Derived
	if isSet(f.DateOfBirth) {
		d.Age = intPtr(AgeInYears(*f.DateOfBirth, today))
	}
	if !isSet(f.LastRadiotherapyDate) {
		return d
	}
	treated := *f.LastRadiotherapyDate

	followUp := today
	if isSet(f.FollowUpDate) {
		followUp = *f.FollowUpDate
	}
	d.TimeSinceTreatment = intPtr(ElapsedMonths(treated, followUp))

	since := func(flag string, at *civil.Date) *int {
		if flag != Yes || !isSet(at) {
			return nil
		}
		return intPtr(ElapsedMonths(treated, *at))
	}
	d.TimeToLocalRecurrence = since(f.LocalRecurrence, f.LocalRecurrenceDate)
	d.TimeToRegionalRecurrence = since(f.RegionalRecurrence, f.RegionalRecurrenceDate)
	d.TimeToDistantRecurrence = since(f.DistantRecurrence, f.DistantRecurrenceDate)
	return d
}

// Lookup returns the first row whose MRN matches mrn once both sides are
// trimmed. It reports false for a blank mrn, an empty table or a table
// without an MRN column.
func Lookup(t tablestore.Table, mrn string) (tablestore.Record, bool) {
	key := strings.TrimSpace(mrn)
	if key == "" || !t.HasColumn(ColMRN) {
		return nil, false
	}
	for _, r := range t.Rows {
		if strings.TrimSpace(tablestore.FormatValue(r[ColMRN])) == key {
			return r, true
		}
	}
	return nil, false
}

// History returns every row for mrn in table order. Repeat visits are
// separate rows, so the last element is the most recent submission.
func History(t tablestore.Table, mrn string) []tablestore.Record {
	key := strings.TrimSpace(mrn)
	if key == "" || !t.HasColumn(ColMRN) {
		return nil
	}
	var out []tablestore.Record
	for _, r := range t.Rows {
		if strings.TrimSpace(tablestore.FormatValue(r[ColMRN])) == key {
			out = append(out, r)
		}
	}
	return out
}

// SafeScalar returns r[field], or def when the field is absent or holds a
// missing marker. The toxicity label "None" is a value, not a marker.
func SafeScalar(r tablestore.Record, field string, def any) any {
	v, ok := r[field]
	if !ok || tablestore.IsMissing(v) {
		return def
	}
	return v
}

// SafeList parses a multi-value field written by tablestore.FlattenList.
// One leading "[" and trailing "]" are stripped, quotes are dropped and the
// rest is split on commas. Tokens that themselves contain a comma cannot be
// recovered. Missing or non-string values yield an empty slice.
func SafeList(r tablestore.Record, field string) []string {
	switch v := SafeScalar(r, field, nil).(type) {
	case []string:
		return append([]string{}, v...)
	case string:
		s := strings.TrimSpace(v)
		s = strings.TrimPrefix(s, "[")
		s = strings.TrimSuffix(s, "]")
		s = strings.NewReplacer("'", "", `"`, "").Replace(s)

		out := []string{}
		for _, tok := range strings.Split(s, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				out = append(out, tok)
			}
		}
		return out
	}
	return []string{}
}

// Assemble merges the form and its derived fields into one record. Each
// recurrence date and interval holds a real value when its flag is "Yes"
// and tablestore.NotApplicable otherwise.
func Assemble(f Form, d Derived) (tablestore.Record, error) {
	mrn := strings.TrimSpace(f.MRN)
	if mrn == "" {
		return nil, &ValidationError{Field: ColMRN, Message: "patient identifier is required"}
	}
	if d.Age == nil || d.TimeSinceTreatment == nil {
		return nil, &ValidationError{
			Field:   ColAge,
			Message: "calculate the age and treatment times before saving",
		}
	}

	r := tablestore.Record{
		ColMRN:                  mrn,
		ColDateOfBirth:          dateValue(f.DateOfBirth),
		ColAge:                  *d.Age,
		ColLastRadiotherapyDate: dateValue(f.LastRadiotherapyDate),
		ColFollowUpDate:         dateValue(f.FollowUpDate),
		ColTimeSinceTreatment:   *d.TimeSinceTreatment,
		ColRadiodermatitis:      f.Radiodermatitis,
		ColTelangiectasia:       f.Telangiectasia,
		ColBreastPain:           f.BreastPain,
		ColCosmeticOutcome:      f.CosmeticOutcome,
		ColBreastShrinkage:      f.BreastShrinkage,
		ColSurgeryForCosmetics:  f.SurgeryForCosmetics,
		ColTNMStage:             append([]string{}, f.TNMStage...),
	}

	for _, rec := range recurrences(f, d) {
		flag := rec.flag
		if flag == "" {
			flag = No
		}
		r[rec.flagCol] = flag

		if flag != Yes {
			r[rec.dateCol] = tablestore.NotApplicable
			r[rec.monthCol] = tablestore.NotApplicable
			continue
		}
		if !isSet(rec.date) {
			return nil, &ValidationError{
				Field:   rec.dateCol,
				Message: fmt.Sprintf("a date is required when %s is %s", rec.flagCol, Yes),
			}
		}
		if rec.months == nil {
			return nil, &ValidationError{
				Field:   rec.monthCol,
				Message: "calculate the recurrence times before saving",
			}
		}
		r[rec.dateCol] = *rec.date
		r[rec.monthCol] = *rec.months
	}
	return r, nil
}

// Prefill rebuilds a form from a stored record so a repeat visit starts
// from the previous answers. The follow-up date is left empty.
func Prefill(r tablestore.Record) Form {
	f := Form{
		MRN:                  strings.TrimSpace(tablestore.FormatValue(SafeScalar(r, ColMRN, ""))),
		DateOfBirth:          safeDate(r, ColDateOfBirth),
		LastRadiotherapyDate: safeDate(r, ColLastRadiotherapyDate),

		Radiodermatitis:     safeString(r, ColRadiodermatitis),
		Telangiectasia:      safeString(r, ColTelangiectasia),
		BreastPain:          safeString(r, ColBreastPain),
		CosmeticOutcome:     safeString(r, ColCosmeticOutcome),
		BreastShrinkage:     safeString(r, ColBreastShrinkage),
		SurgeryForCosmetics: safeString(r, ColSurgeryForCosmetics),

		TNMStage: SafeList(r, ColTNMStage),
	}

	f.LocalRecurrence, f.LocalRecurrenceDate = safeRecurrence(r, ColLocalRecurrence, ColLocalRecurrenceDate)
	f.RegionalRecurrence, f.RegionalRecurrenceDate = safeRecurrence(r, ColRegionalRecurrence, ColRegionalRecurrenceDate)
	f.DistantRecurrence, f.DistantRecurrenceDate = safeRecurrence(r, ColDistantRecurrence, ColDistantRecurrenceDate)
	return f
}

// safeString falls back to the first option of field.
func safeString(r tablestore.Record, field string) string {
	var def string
	if opts := Options[field]; len(opts) > 0 {
		def = opts[0]
	}
	return tablestore.FormatValue(SafeScalar(r, field, def))
}

// safeDate returns nil when the cell is missing or not a date.
func safeDate(r tablestore.Record, field string) *civil.Date {
	var d civil.Date
	switch v := SafeScalar(r, field, nil).(type) {
	case civil.Date:
		d = v
	case *civil.Date:
		d = *v
	case string:
		parsed, err := civil.ParseDate(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		d = parsed
	}
	if d.IsZero() {
		return nil
	}
	return &d
}

func safeRecurrence(r tablestore.Record, flagCol, dateCol string) (string, *civil.Date) {
	flag := safeString(r, flagCol)
	if flag != Yes {
		return flag, nil
	}
	return flag, safeDate(r, dateCol)
}

func dateValue(d *civil.Date) any {
	if !isSet(d) {
		return nil
	}
	return *d
}

func intPtr(v int) *int { return &v }
