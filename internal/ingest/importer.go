package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/phuslu/log"

	"finstat/internal/model"
	"finstat/internal/store"
)

// Result summarizes one import run.
type Result struct {
	Files       int
	SkippedOld  int
	Rows        int
	SkippedRows int
	Failed      []string
}

// Importer loads every *.csv under Dir that the ingestion log has not seen.
type Importer struct {
	Dir   string
	Store store.Store
	Now   func() time.Time
}

// NewImporter creates an Importer for dir.
func NewImporter(dir string, st store.Store) *Importer {
	return &Importer{Dir: dir, Store: st, Now: time.Now}
}

// Run imports new files. A file that fails to parse is logged and listed in
// Result.Failed; the remaining files are still imported.
func (im *Importer) Run(ctx context.Context) (Result, error) {
	var res Result
	files, err := filepath.Glob(filepath.Join(im.Dir, "*.csv"))
	if err != nil {
		return res, fmt.Errorf("list input files: %w", err)
	}
	sort.Strings(files)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := filepath.Base(path)
		seen, err := im.Store.HasIngested(ctx, name)
		if err != nil {
			return res, fmt.Errorf("check ingestion log: %w", err)
		}
		if seen {
			res.SkippedOld++
			continue
		}

		n, skipped, err := im.importFile(ctx, path)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("import failed")
			res.Failed = append(res.Failed, name)
			continue
		}
		res.Files++
		res.Rows += n
		res.SkippedRows += skipped
	}

	log.Info().
		Int("files", res.Files).
		Int("already_loaded", res.SkippedOld).
		Int("rows", res.Rows).
		Int("skipped_rows", res.SkippedRows).
		Int("failed", len(res.Failed)).
		Msg("import finished")
	return res, nil
}

func (im *Importer) importFile(ctx context.Context, path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	batch, err := ParseCSV(f)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if err := im.Store.UpsertBanks(ctx, batch.Banks); err != nil {
		return 0, 0, fmt.Errorf("store banks: %w", err)
	}
	if err := im.Store.UpsertRawObservations(ctx, batch.Observations); err != nil {
		return 0, 0, fmt.Errorf("store observations: %w", err)
	}

	rec := model.IngestionRecord{
		FileName:   filepath.Base(path),
		RowsLoaded: len(batch.Observations),
		LoadedAt:   im.Now().UTC(),
	}
	if len(batch.Observations) > 0 {
		first := batch.Observations[0]
		rec.BankID, rec.FormCode, rec.Period = first.BankID, first.FormCode, first.Period
	}
	if err := im.Store.RecordIngestion(ctx, rec); err != nil {
		return 0, 0, fmt.Errorf("record ingestion: %w", err)
	}
	return len(batch.Observations), batch.Skipped, nil
}
