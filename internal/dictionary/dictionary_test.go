package dictionary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# form_code,item_code,std_key,description
101,20202,CASH,Cash on hand

101,20202A,CASH,Cash (asset side)
101,30102P,DEPOSITS
  # indented comment
135,H1_0,N1_0,Capital adequacy
135,,EMPTY_ITEM
too,short
101,20202,CASH_OVERRIDE,duplicate wins
123,"broken,QUOTE
`

func TestParse_SkipsMalformedRows(t *testing.T) {
	d, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	k, ok := d.Resolve("101", "20202")
	require.True(t, ok)
	assert.Equal(t, "CASH_OVERRIDE", k)

	k, ok = d.Resolve("101", "20202A")
	require.True(t, ok)
	assert.Equal(t, "CASH", k)

	k, ok = d.Resolve("101", "30102P")
	require.True(t, ok)
	assert.Equal(t, "DEPOSITS", k)

	_, ok = d.Resolve("135", "")
	assert.False(t, ok)
	_, ok = d.Resolve("too", "short")
	assert.False(t, ok)
	_, ok = d.Resolve("999", "20202")
	assert.False(t, ok)

	assert.Contains(t, d.Keys(), "N1_0")
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	d, err := Load(filepath.Join(t.TempDir(), "absent.csv"))
	require.NoError(t, err)
	assert.Equal(t, 0, d.Len())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.csv")
	require.NoError(t, os.WriteFile(path, []byte("\ufeff101,1,A\n101,2,A\n102,1,B\n"), 0o644))
	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, []string{"A", "B"}, d.Keys())
	k, ok := d.Resolve("101", "1")
	require.True(t, ok)
	assert.Equal(t, "A", k)
}
