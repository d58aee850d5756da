package model

import "fmt"

// IndicatorValue is one computed indicator for one bank and month. A nil
// Value means the indicator could not be computed from the available data.
type IndicatorValue struct {
	BankID      string
	IndicatorID string
	Period      Period
	Value       *float64
}

// Change horizons, in months.
const (
	ChangeShort = 1
	ChangeLong  = 6
)

// ChangeID names the percentage-change indicator derived from base over the
// given horizon, e.g. QN18_PCT_M6.
func ChangeID(base string, months int) string {
	return fmt.Sprintf("%s_PCT_M%d", base, months)
}
