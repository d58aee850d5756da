package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"

	"finstat/internal/model"
)

type dialect struct {
	name     string
	// float column type; Postgres REAL is single precision.
	float    string
	// numbered placeholders ($1, $2, ...) instead of ?.
	numbered bool
}

// SQLStore implements Store over database/sql. The same statements serve
// SQLite and Postgres; only placeholders and column types differ.
type SQLStore struct {
	db *sql.DB
	d  dialect
	mu sync.Mutex
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) rebind(q string) string {
	if !s.d.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) migrate() error {
	f := s.d.float
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS banks (
			bank_id   TEXT PRIMARY KEY,
			bank_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS raw_values (
			bank_id   TEXT NOT NULL,
			form_code TEXT NOT NULL,
			period    TEXT NOT NULL,
			item_code TEXT NOT NULL,
			value     ` + f + `,
			PRIMARY KEY (bank_id, form_code, period, item_code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_bank_period ON raw_values(bank_id, period)`,
		`CREATE TABLE IF NOT EXISTS indicator_values (
			bank_id      TEXT NOT NULL,
			indicator_id TEXT NOT NULL,
			period       TEXT NOT NULL,
			value        ` + f + `,
			PRIMARY KEY (bank_id, indicator_id, period)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_indicator_period ON indicator_values(period)`,
		`CREATE TABLE IF NOT EXISTS algo_classifications (
			bank_id TEXT NOT NULL,
			period  TEXT NOT NULL,
			status  TEXT NOT NULL CHECK (status IN ('Green','Yellow','Red')),
			details TEXT,
			PRIMARY KEY (bank_id, period)
		)`,
		`CREATE TABLE IF NOT EXISTS llm_classifications (
			bank_id    TEXT NOT NULL,
			period     TEXT NOT NULL,
			status     TEXT NOT NULL CHECK (status IN ('Green','Yellow','Red')),
			reasoning  TEXT,
			model      TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (bank_id, period)
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_log (
			file_name   TEXT PRIMARY KEY,
			bank_id     TEXT,
			form_code   TEXT,
			period      TEXT,
			rows_loaded INTEGER,
			loaded_at   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id           TEXT PRIMARY KEY,
			started_at       TEXT NOT NULL,
			finished_at      TEXT NOT NULL,
			imported         INTEGER,
			indicator_values INTEGER,
			change_values    INTEGER,
			classified       INTEGER,
			ai_classified    INTEGER,
			report_path      TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// upsert runs query once per row inside one transaction.
func (s *SQLStore) upsert(ctx context.Context, query string, n int, args func(i int) []any) (err error) {
	if n == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err = stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return model.Float(v.Float64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func periodArg(p model.Period) string { return p.String() }

func (s *SQLStore) UpsertBanks(ctx context.Context, banks []model.Bank) error {
	return s.upsert(ctx, `INSERT INTO banks (bank_id, bank_name) VALUES (?, ?)
		ON CONFLICT (bank_id) DO UPDATE SET
			bank_name = COALESCE(NULLIF(excluded.bank_name, ''), banks.bank_name)`,
		len(banks), func(i int) []any {
			return []any{banks[i].ID, banks[i].Name}
		})
}

func (s *SQLStore) ListBanks(ctx context.Context) ([]model.Bank, error) {
	rows, err := s.query(ctx, `SELECT bank_id, COALESCE(bank_name, '') FROM banks ORDER BY bank_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Bank
	for rows.Next() {
		var b model.Bank
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertRawObservations(ctx context.Context, obs []model.RawObservation) error {
	return s.upsert(ctx, `INSERT INTO raw_values (bank_id, form_code, period, item_code, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (bank_id, form_code, period, item_code) DO UPDATE SET value = excluded.value`,
		len(obs), func(i int) []any {
			o := obs[i]
			return []any{o.BankID, o.FormCode, periodArg(o.Period), o.ItemCode, nullable(o.Value)}
		})
}

func (s *SQLStore) ListRawObservations(ctx context.Context, q RawQuery) ([]model.RawObservation, error) {
	var where []string
	var args []any
	if q.BankID != "" {
		where = append(where, "bank_id = ?")
		args = append(args, q.BankID)
	}
	if q.FormCode != "" {
		where = append(where, "form_code = ?")
		args = append(args, q.FormCode)
	}
	if !q.Period.IsZero() {
		where = append(where, "period = ?")
		args = append(args, periodArg(q.Period))
	}
	stmt := `SELECT bank_id, form_code, period, item_code, value FROM raw_values`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY bank_id, period, form_code, item_code"
	if q.Limit > 0 {
		stmt += " LIMIT " + strconv.Itoa(q.Limit)
	}

	rows, err := s.query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RawObservation
	for rows.Next() {
		var (
			o      model.RawObservation
			period string
			value  sql.NullFloat64
		)
		if err := rows.Scan(&o.BankID, &o.FormCode, &period, &o.ItemCode, &value); err != nil {
			return nil, err
		}
		if o.Period, err = model.ParsePeriod(period); err != nil {
			return nil, err
		}
		o.Value = fromNull(value)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListBankPeriods(ctx context.Context) ([]model.BankPeriod, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT bank_id, period FROM raw_values ORDER BY bank_id, period`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BankPeriod
	for rows.Next() {
		var bp model.BankPeriod
		var period string
		if err := rows.Scan(&bp.BankID, &period); err != nil {
			return nil, err
		}
		if bp.Period, err = model.ParsePeriod(period); err != nil {
			return nil, err
		}
		out = append(out, bp)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListPeriods(ctx context.Context) ([]model.Period, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT period FROM raw_values ORDER BY period`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Period
	for rows.Next() {
		var period string
		if err := rows.Scan(&period); err != nil {
			return nil, err
		}
		p, err := model.ParsePeriod(period)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListForms(ctx context.Context) ([]FormSummary, error) {
	rows, err := s.query(ctx, `SELECT form_code, COUNT(DISTINCT bank_id), COUNT(DISTINCT period), COUNT(*)
		FROM raw_values GROUP BY form_code ORDER BY form_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FormSummary
	for rows.Next() {
		var f FormSummary
		if err := rows.Scan(&f.FormCode, &f.Banks, &f.Periods, &f.Rows); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertIndicatorValues(ctx context.Context, values []model.IndicatorValue) error {
	return s.upsert(ctx, `INSERT INTO indicator_values (bank_id, indicator_id, period, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (bank_id, indicator_id, period) DO UPDATE SET value = excluded.value`,
		len(values), func(i int) []any {
			v := values[i]
			return []any{v.BankID, v.IndicatorID, periodArg(v.Period), nullable(v.Value)}
		})
}

func (s *SQLStore) ListIndicatorValues(ctx context.Context, q IndicatorQuery) ([]model.IndicatorValue, error) {
	var where []string
	var args []any
	if len(q.IndicatorIDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(q.IndicatorIDs)), ",")
		where = append(where, "indicator_id IN ("+marks+")")
		for _, id := range q.IndicatorIDs {
			args = append(args, id)
		}
	}
	if q.BankID != "" {
		where = append(where, "bank_id = ?")
		args = append(args, q.BankID)
	}
	if !q.Period.IsZero() {
		where = append(where, "period = ?")
		args = append(args, periodArg(q.Period))
	}
	stmt := `SELECT bank_id, indicator_id, period, value FROM indicator_values`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY bank_id, indicator_id, period"

	rows, err := s.query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.IndicatorValue
	for rows.Next() {
		var (
			v      model.IndicatorValue
			period string
			value  sql.NullFloat64
		)
		if err := rows.Scan(&v.BankID, &v.IndicatorID, &period, &value); err != nil {
			return nil, err
		}
		if v.Period, err = model.ParsePeriod(period); err != nil {
			return nil, err
		}
		v.Value = fromNull(value)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertClassifications(ctx context.Context, cs []model.Classification) error {
	return s.upsert(ctx, `INSERT INTO algo_classifications (bank_id, period, status, details)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (bank_id, period) DO UPDATE SET status = excluded.status, details = excluded.details`,
		len(cs), func(i int) []any {
			c := cs[i]
			return []any{c.BankID, periodArg(c.Period), string(c.Status), c.Details}
		})
}

func (s *SQLStore) ListClassifications(ctx context.Context, period model.Period) ([]model.Classification, error) {
	rows, err := s.query(ctx, `SELECT bank_id, period, status, COALESCE(details, '')
		FROM algo_classifications WHERE period = ? ORDER BY bank_id`, periodArg(period))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Classification
	for rows.Next() {
		var c model.Classification
		var p, status string
		if err := rows.Scan(&c.BankID, &p, &status, &c.Details); err != nil {
			return nil, err
		}
		c.Period = period
		c.Status = model.Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertAIClassifications(ctx context.Context, cs []model.AIClassification) error {
	return s.upsert(ctx, `INSERT INTO llm_classifications (bank_id, period, status, reasoning, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (bank_id, period) DO UPDATE SET
			status = excluded.status,
			reasoning = excluded.reasoning,
			model = excluded.model,
			created_at = excluded.created_at`,
		len(cs), func(i int) []any {
			c := cs[i]
			return []any{c.BankID, periodArg(c.Period), string(c.Status), c.Reasoning, c.Model, formatTime(c.CreatedAt)}
		})
}

func (s *SQLStore) ListAIClassifications(ctx context.Context, period model.Period) ([]model.AIClassification, error) {
	rows, err := s.query(ctx, `SELECT bank_id, status, COALESCE(reasoning, ''), COALESCE(model, ''), created_at
		FROM llm_classifications WHERE period = ? ORDER BY bank_id`, periodArg(period))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AIClassification
	for rows.Next() {
		var c model.AIClassification
		var status, created string
		if err := rows.Scan(&c.BankID, &status, &c.Reasoning, &c.Model, &created); err != nil {
			return nil, err
		}
		c.Period = period
		c.Status = model.Status(status)
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) RecordIngestion(ctx context.Context, rec model.IngestionRecord) error {
	return s.upsert(ctx, `INSERT INTO ingestion_log (file_name, bank_id, form_code, period, rows_loaded, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_name) DO UPDATE SET
			bank_id = excluded.bank_id,
			form_code = excluded.form_code,
			period = excluded.period,
			rows_loaded = excluded.rows_loaded,
			loaded_at = excluded.loaded_at`,
		1, func(int) []any {
			return []any{rec.FileName, rec.BankID, rec.FormCode, periodArg(rec.Period), rec.RowsLoaded, formatTime(rec.LoadedAt)}
		})
}

func (s *SQLStore) HasIngested(ctx context.Context, fileName string) (bool, error) {
	rows, err := s.query(ctx, `SELECT 1 FROM ingestion_log WHERE file_name = ?`, fileName)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (s *SQLStore) ListIngestions(ctx context.Context) ([]model.IngestionRecord, error) {
	rows, err := s.query(ctx, `SELECT file_name, COALESCE(bank_id, ''), COALESCE(form_code, ''),
		COALESCE(period, ''), COALESCE(rows_loaded, 0), loaded_at
		FROM ingestion_log ORDER BY loaded_at DESC, file_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.IngestionRecord
	for rows.Next() {
		var rec model.IngestionRecord
		var period, loaded string
		if err := rows.Scan(&rec.FileName, &rec.BankID, &rec.FormCode, &period, &rec.RowsLoaded, &loaded); err != nil {
			return nil, err
		}
		if period != "" {
			rec.Period, _ = model.ParsePeriod(period)
		}
		rec.LoadedAt = parseTime(loaded)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) RecordRun(ctx context.Context, run model.RunRecord) error {
	return s.upsert(ctx, `INSERT INTO pipeline_runs (run_id, started_at, finished_at, imported,
			indicator_values, change_values, classified, ai_classified, report_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			imported = excluded.imported,
			indicator_values = excluded.indicator_values,
			change_values = excluded.change_values,
			classified = excluded.classified,
			ai_classified = excluded.ai_classified,
			report_path = excluded.report_path`,
		1, func(int) []any {
			return []any{run.ID, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Imported,
				run.IndicatorValues, run.ChangeValues, run.Classified, run.AIClassified, run.ReportPath}
		})
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM banks),
		(SELECT COUNT(DISTINCT form_code) FROM raw_values),
		(SELECT COUNT(DISTINCT period) FROM raw_values),
		(SELECT COUNT(*) FROM raw_values),
		(SELECT COUNT(*) FROM indicator_values),
		(SELECT COUNT(*) FROM algo_classifications),
		(SELECT COUNT(*) FROM llm_classifications)`)
	err := row.Scan(&st.Banks, &st.Forms, &st.Periods, &st.RawValues,
		&st.IndicatorValues, &st.Classifications, &st.AIClassified)
	return st, err
}

func (s *SQLStore) Close() error {
	log.Info().Str("driver", s.d.name).Msg("closing store")
	return s.db.Close()
}
