// Package dictionary maps raw statement line items to standardized keys.
package dictionary

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/phuslu/log"
)

type itemKey struct {
	form string
	item string
}

// Dictionary resolves (form code, item code) pairs to standardized keys.
// Many pairs may share one key. It is read-only after loading.
type Dictionary struct {
	entries map[itemKey]string
}

// Entry is one mapping row.
type Entry struct {
	FormCode    string
	ItemCode    string
	Key         string
	Description string
}

// New builds a dictionary from entries; later duplicates win.
func New(entries []Entry) *Dictionary {
	d := &Dictionary{entries: make(map[itemKey]string, len(entries))}
	for _, e := range entries {
		d.entries[itemKey{e.FormCode, e.ItemCode}] = e.Key
	}
	return d
}

// Load reads a dictionary CSV. A missing file yields an empty dictionary.
func Load(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("data dictionary not found, no items will be mapped")
			return New(nil), nil
		}
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("entries", d.Len()).Msg("data dictionary loaded")
	return d, nil
}

// Parse reads rows of form_code,item_code,std_key[,description]. Blank
// rows, #-comments, short rows, rows with an empty required field and rows
// the CSV reader rejects are skipped. Only I/O errors are returned.
func Parse(r io.Reader) (*Dictionary, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var entries []Entry
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return nil, err
		}
		if len(row) == 0 || strings.HasPrefix(strings.TrimSpace(row[0]), "#") {
			continue
		}
		if len(row) < 3 {
			continue
		}
		e := Entry{
			FormCode: strings.TrimSpace(strings.TrimPrefix(row[0], "\ufeff")),
			ItemCode: strings.TrimSpace(row[1]),
			Key:      strings.TrimSpace(row[2]),
		}
		if len(row) > 3 {
			e.Description = strings.TrimSpace(row[3])
		}
		if e.FormCode == "" || e.ItemCode == "" || e.Key == "" {
			continue
		}
		entries = append(entries, e)
	}
	return New(entries), nil
}

// Resolve returns the standardized key for a line item.
func (d *Dictionary) Resolve(formCode, itemCode string) (string, bool) {
	k, ok := d.entries[itemKey{formCode, itemCode}]
	return k, ok
}

func (d *Dictionary) Len() int { return len(d.entries) }

// Keys returns the distinct standardized keys, sorted.
func (d *Dictionary) Keys() []string {
	seen := map[string]struct{}{}
	for _, k := range d.entries {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
