// Package store persists raw observations, indicator values and
// classifications keyed the way the pipeline reads them back.
package store

import (
	"context"

	"finstat/internal/model"
)

// RawQuery filters raw observations. Zero fields match everything.
type RawQuery struct {
	BankID   string
	FormCode string
	Period   model.Period
	Limit    int
}

// IndicatorQuery filters indicator values. Zero fields match everything.
type IndicatorQuery struct {
	IndicatorIDs []string
	BankID       string
	Period       model.Period
}

// FormSummary describes one statement form present in raw data.
type FormSummary struct {
	FormCode string
	Banks    int
	Periods  int
	Rows     int
}

// Stats counts stored rows.
type Stats struct {
	Banks           int
	Forms           int
	Periods         int
	RawValues       int
	IndicatorValues int
	Classifications int
	AIClassified    int
}

// Store is the pipeline's persistence boundary. All writes are upserts by
// natural key, so rerunning a phase overwrites instead of accumulating.
type Store interface {
	UpsertBanks(ctx context.Context, banks []model.Bank) error
	ListBanks(ctx context.Context) ([]model.Bank, error)

	UpsertRawObservations(ctx context.Context, obs []model.RawObservation) error
	ListRawObservations(ctx context.Context, q RawQuery) ([]model.RawObservation, error)
	ListBankPeriods(ctx context.Context) ([]model.BankPeriod, error)
	ListPeriods(ctx context.Context) ([]model.Period, error)
	ListForms(ctx context.Context) ([]FormSummary, error)

	UpsertIndicatorValues(ctx context.Context, values []model.IndicatorValue) error
	ListIndicatorValues(ctx context.Context, q IndicatorQuery) ([]model.IndicatorValue, error)

	UpsertClassifications(ctx context.Context, cs []model.Classification) error
	ListClassifications(ctx context.Context, period model.Period) ([]model.Classification, error)

	UpsertAIClassifications(ctx context.Context, cs []model.AIClassification) error
	ListAIClassifications(ctx context.Context, period model.Period) ([]model.AIClassification, error)

	RecordIngestion(ctx context.Context, rec model.IngestionRecord) error
	HasIngested(ctx context.Context, fileName string) (bool, error)
	ListIngestions(ctx context.Context) ([]model.IngestionRecord, error)

	RecordRun(ctx context.Context, run model.RunRecord) error
	Stats(ctx context.Context) (Stats, error)

	Close() error
}
