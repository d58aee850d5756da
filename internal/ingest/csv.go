// Package ingest loads normalized statement rows into the store.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"finstat/internal/model"
)

// Required CSV columns. bank_name is optional.
var requiredColumns = []string{"bank_id", "form_code", "period", "item_code", "value"}

// Batch is the parsed content of one source file.
type Batch struct {
	Observations []model.RawObservation
	Banks        []model.Bank

	// Skipped counts rows dropped for a bad period or an empty key.
	Skipped int
}

// ParseCSV reads rows with a header naming at least bank_id, form_code,
// period, item_code and value, in any order. Blank or non-numeric values
// become nulls.
func ParseCSV(r io.Reader) (*Batch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("missing header")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		cols[h] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}
	nameCol, hasName := cols["bank_name"]

	b := &Batch{}
	banks := map[string]int{}
	get := func(rec []string, i int) string {
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				b.Skipped++
				continue
			}
			return nil, err
		}

		bankID := get(rec, cols["bank_id"])
		form := get(rec, cols["form_code"])
		item := get(rec, cols["item_code"])
		if bankID == "" || form == "" || item == "" {
			b.Skipped++
			continue
		}
		period, err := model.ParsePeriod(get(rec, cols["period"]))
		if err != nil {
			b.Skipped++
			continue
		}

		b.Observations = append(b.Observations, model.RawObservation{
			BankID:   bankID,
			FormCode: form,
			Period:   period,
			ItemCode: item,
			Value:    parseValue(get(rec, cols["value"])),
		})

		name := ""
		if hasName {
			name = get(rec, nameCol)
		}
		if i, ok := banks[bankID]; ok {
			if name != "" {
				b.Banks[i].Name = name
			}
			continue
		}
		banks[bankID] = len(b.Banks)
		b.Banks = append(b.Banks, model.Bank{ID: bankID, Name: name})
	}
	return b, nil
}

// parseValue accepts plain numbers and a decimal comma.
func parseValue(s string) *float64 {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, " ", "")
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
