package model

import "time"

// RunRecord summarizes one pipeline run.
type RunRecord struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Imported        int
	IndicatorValues int
	ChangeValues    int
	Classified      int
	AIClassified    int
	ReportPath      string
}
