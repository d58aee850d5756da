package model

import "time"

// Bank is a reporting institution.
type Bank struct {
	ID   string
	Name string
}

// RawObservation is one line item of one statement form, as delivered by
// ingestion. Item codes may carry an A/P suffix distinguishing the asset and
// liability side of dual-purpose items; the suffix is part of the code.
type RawObservation struct {
	BankID   string
	FormCode string
	Period   Period
	ItemCode string
	Value    *float64
}

// BankPeriod identifies one bank's statement for one month.
type BankPeriod struct {
	BankID string
	Period Period
}

// IngestionRecord logs one imported source file.
type IngestionRecord struct {
	FileName   string
	BankID     string
	FormCode   string
	Period     Period
	RowsLoaded int
	LoadedAt   time.Time
}

// Float returns a pointer to v, for building nullable values.
func Float(v float64) *float64 { return &v }
