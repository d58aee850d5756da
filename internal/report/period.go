package report

import (
	"errors"
	"fmt"
	"strings"

	"finstat/internal/model"
)

// ErrNoData is returned when nothing has been imported yet.
var ErrNoData = errors.New("no data")

// ResolvePeriod maps a requested date onto a stored period: "latest" or ""
// picks the newest; otherwise the exact month, else the newest month before
// it, else the earliest month stored. periods must be ascending.
func ResolvePeriod(periods []model.Period, desired string) (model.Period, error) {
	if len(periods) == 0 {
		return model.Period{}, ErrNoData
	}
	desired = strings.TrimSpace(desired)
	if desired == "" || strings.EqualFold(desired, "latest") {
		return periods[len(periods)-1], nil
	}
	want, err := model.ParsePeriod(desired)
	if err != nil {
		return model.Period{}, fmt.Errorf("period %q: %w", desired, err)
	}
	var best model.Period
	for _, p := range periods {
		if p == want {
			return p, nil
		}
		if p.Before(want) {
			best = p
		}
	}
	if !best.IsZero() {
		return best, nil
	}
	return periods[0], nil
}
