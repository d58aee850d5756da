package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finstat/internal/model"
	"finstat/internal/store"
)

func TestParseCSV(t *testing.T) {
	src := "Period,BANK_ID,form_code,item_code,value,bank_name\n" +
		"2024-01-01,B1,F101,1001A,100.5,First Bank\n" +
		"2024-01,B1,F101,1002P,,\n" +
		"2024-01-01,B2,F101,1001A,\"12,5\",\n" +
		"2024-01-01,B2,F101,1003,n/a,Second\n" +
		"bad-period,B2,F101,1001A,1,\n" +
		"2024-01-01,,F101,1001A,1,\n"

	b, err := ParseCSV(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, b.Observations, 4)
	assert.Equal(t, 2, b.Skipped)

	first := b.Observations[0]
	assert.Equal(t, "B1", first.BankID)
	assert.Equal(t, "1001A", first.ItemCode)
	assert.Equal(t, model.NewPeriod(2024, 1), first.Period)
	require.NotNil(t, first.Value)
	assert.Equal(t, 100.5, *first.Value)

	assert.Nil(t, b.Observations[1].Value)
	require.NotNil(t, b.Observations[2].Value)
	assert.Equal(t, 12.5, *b.Observations[2].Value)
	assert.Nil(t, b.Observations[3].Value)

	assert.Equal(t, []model.Bank{{ID: "B1", Name: "First Bank"}, {ID: "B2", Name: "Second"}}, b.Banks)
}

func TestParseCSV_MissingColumn(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("bank_id,period,item_code,value\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "form_code")

	_, err = ParseCSV(strings.NewReader(""))
	require.Error(t, err)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestImporter_Run(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "b1_2024-01.csv", "bank_id,form_code,period,item_code,value\nB1,F101,2024-01-01,1001A,10\nB1,F101,2024-01-01,1002,20\n")
	writeFile(t, dir, "broken.csv", "no,header,here\n1,2,3\n")
	writeFile(t, dir, "notes.txt", "ignored")

	st := store.NewMemory()
	im := NewImporter(dir, st)
	im.Now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }

	res, err := im.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, []string{"broken.csv"}, res.Failed)

	obs, err := st.ListRawObservations(ctx, store.RawQuery{BankID: "B1"})
	require.NoError(t, err)
	assert.Len(t, obs, 2)

	logs, err := st.ListIngestions(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "b1_2024-01.csv", logs[0].FileName)
	assert.Equal(t, 2, logs[0].RowsLoaded)
	assert.Equal(t, "F101", logs[0].FormCode)

	// second pass skips the logged file
	res, err = im.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Files)
	assert.Equal(t, 1, res.SkippedOld)
}
