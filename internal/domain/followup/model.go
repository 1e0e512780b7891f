package followup

import (
	"encoding/json"
	"strings"

	"cloud.google.com/go/civil"
)

const (
	Yes = "Yes"
	No  = "No"
)

// Column names of the persisted follow-up sheet.
const (
	ColMRN                      = "MRN"
	ColDateOfBirth              = "Date_of_birth"
	ColAge                      = "Age"
	ColLastRadiotherapyDate     = "Last_radiotherapy_date"
	ColFollowUpDate             = "Follow_up_date"
	ColTimeSinceTreatment       = "Time_since_treatment"
	ColRadiodermatitis          = "Radiodermatitis"
	ColTelangiectasia           = "Telangiectasia"
	ColBreastPain               = "Breast_pain"
	ColCosmeticOutcome          = "Cosmetic_outcome"
	ColBreastShrinkage          = "Breast_shrinkage"
	ColSurgeryForCosmetics      = "Surgery_for_cosmetics"
	ColTNMStage                 = "TNM_stage"
	ColLocalRecurrence          = "Local_recurrence"
	ColLocalRecurrenceDate      = "Local_recurrence_date"
	ColTimeToLocalRecurrence    = "Time_to_local_recurrence"
	ColRegionalRecurrence       = "Regional_recurrence"
	ColRegionalRecurrenceDate   = "Regional_recurrence_date"
	ColTimeToRegionalRecurrence = "Time_to_regional_recurrence"
	ColDistantRecurrence        = "Distant_recurrence"
	ColDistantRecurrenceDate    = "Distant_recurrence_date"
	ColTimeToDistantRecurrence  = "Time_to_distant_recurrence"
)

// Columns is the header order used when a new sheet is started.
var Columns = []string{
	ColMRN, ColDateOfBirth, ColAge, ColLastRadiotherapyDate, ColFollowUpDate,
	ColTimeSinceTreatment, ColRadiodermatitis, ColTelangiectasia, ColBreastPain,
	ColCosmeticOutcome, ColBreastShrinkage, ColSurgeryForCosmetics, ColTNMStage,
	ColLocalRecurrence, ColLocalRecurrenceDate, ColTimeToLocalRecurrence,
	ColRegionalRecurrence, ColRegionalRecurrenceDate, ColTimeToRegionalRecurrence,
	ColDistantRecurrence, ColDistantRecurrenceDate, ColTimeToDistantRecurrence,
}

// Options lists the choices the form layer offers for each enumerated
// field. Submitted values are stored verbatim and never checked against it.
var Options = map[string][]string{
	ColRadiodermatitis:     {"None", "I", "II", "III", "IV"},
	ColTelangiectasia:      {No, Yes},
	ColBreastPain:          {"None", "I", "II", "III"},
	ColCosmeticOutcome:     {"Excellent", "Good", "Poor"},
	ColBreastShrinkage:     {No, Yes},
	ColSurgeryForCosmetics: {No, Yes},
	ColTNMStage: {
		"Tis", "T1", "T2", "T3", "T4",
		"N0", "N1", "N2", "N3",
		"M0", "M1",
	},
	ColLocalRecurrence:    {No, Yes},
	ColRegionalRecurrence: {No, Yes},
	ColDistantRecurrence:  {No, Yes},
}

// Form holds the values entered for one follow-up visit.
type Form struct {
	MRN                  string      `json:"mrn"`
	DateOfBirth          *civil.Date `json:"date_of_birth,omitempty"`
	LastRadiotherapyDate *civil.Date `json:"last_radiotherapy_date,omitempty"`
	FollowUpDate         *civil.Date `json:"follow_up_date,omitempty"`

	Radiodermatitis     string `json:"radiodermatitis"`
	Telangiectasia      string `json:"telangiectasia"`
	BreastPain          string `json:"breast_pain"`
	CosmeticOutcome     string `json:"cosmetic_outcome"`
	BreastShrinkage     string `json:"breast_shrinkage"`
	SurgeryForCosmetics string `json:"surgery_for_cosmetics"`

	TNMStage []string `json:"tnm_stage,omitempty"`

	LocalRecurrence        string      `json:"local_recurrence"`
	LocalRecurrenceDate    *civil.Date `json:"local_recurrence_date,omitempty"`
	RegionalRecurrence     string      `json:"regional_recurrence"`
	RegionalRecurrenceDate *civil.Date `json:"regional_recurrence_date,omitempty"`
	DistantRecurrence      string      `json:"distant_recurrence"`
	DistantRecurrenceDate  *civil.Date `json:"distant_recurrence_date,omitempty"`
}

// Derived holds the values computed from the form's dates. A nil field has
// not been computed or does not apply.
type Derived struct {
	Age                      *int `json:"age"`
	TimeSinceTreatment       *int `json:"time_since_treatment"`
	TimeToLocalRecurrence    *int `json:"time_to_local_recurrence"`
	TimeToRegionalRecurrence *int `json:"time_to_regional_recurrence"`
	TimeToDistantRecurrence  *int `json:"time_to_distant_recurrence"`
}

// formDateFields are the JSON keys of Form that hold dates.
var formDateFields = []string{
	"date_of_birth", "last_radiotherapy_date", "follow_up_date",
	"local_recurrence_date", "regional_recurrence_date", "distant_recurrence_date",
}

// UnmarshalJSON treats an empty string date the same as an absent one, so
// a cleared date input reaches validation instead of failing to decode.
func (f *Form) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range formDateFields {
		if v, ok := raw[key]; ok && strings.TrimSpace(string(v)) == `""` {
			delete(raw, key)
		}
	}
	cleaned, err := json.Marshal(raw)
	if err != nil {
		return err
	}

	type plain Form
	var out plain
	if err := json.Unmarshal(cleaned, &out); err != nil {
		return err
	}
	*f = Form(out)
	return nil
}

func isSet(d *civil.Date) bool {
	return d != nil && !d.IsZero()
}

// recurrence pairs one Yes/No flag with its date and derived interval.
type recurrence struct {
	flag     string
	date     *civil.Date
	months   *int
	flagCol  string
	dateCol  string
	monthCol string
}

func recurrences(f Form, d Derived) []recurrence {
	return []recurrence{
		{f.LocalRecurrence, f.LocalRecurrenceDate, d.TimeToLocalRecurrence,
			ColLocalRecurrence, ColLocalRecurrenceDate, ColTimeToLocalRecurrence},
		{f.RegionalRecurrence, f.RegionalRecurrenceDate, d.TimeToRegionalRecurrence,
			ColRegionalRecurrence, ColRegionalRecurrenceDate, ColTimeToRegionalRecurrence},
		{f.DistantRecurrence, f.DistantRecurrenceDate, d.TimeToDistantRecurrence,
			ColDistantRecurrence, ColDistantRecurrenceDate, ColTimeToDistantRecurrence},
	}
}
