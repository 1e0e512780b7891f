package followup

import "cloud.google.com/go/civil"

// AgeInYears returns the calendar age on ref: the year difference, less one
// when ref falls before the birthday in its year.
func AgeInYears(birth, ref civil.Date) int {
	age := ref.Year - birth.Year
	if ref.Month < birth.Month || (ref.Month == birth.Month && ref.Day < birth.Day) {
		age--
	}
	return age
}

// ElapsedMonths counts calendar months from start to end ignoring the day of
// the month. It is negative when end precedes start.
//
// Historical data depends on this exact formula; do not make it day-aware.
func ElapsedMonths(start, end civil.Date) int {
	return (end.Year-start.Year)*12 + int(end.Month-start.Month)
}
