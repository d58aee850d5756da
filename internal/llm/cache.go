package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Cache stores model answers on disk, one directory per period.
type Cache struct {
	Dir string
}

type cacheEntry struct {
	Model    string          `json:"model,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Response *Response       `json:"response,omitempty"`
}

// CacheKey hashes everything that determines an answer.
func CacheKey(modelName string, msgs Messages, payload []byte) string {
	blob, _ := json.Marshal(struct {
		Model    string          `json:"model"`
		Messages Messages        `json:"messages"`
		Payload  json.RawMessage `json:"payload"`
	}{modelName, msgs, payload})
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

var unsafeName = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")

func (c *Cache) path(period, bankID, kind, key string) string {
	return filepath.Join(c.Dir, period, fmt.Sprintf("%s_%s_%s.json", unsafeName.Replace(bankID), kind, key))
}

// Get returns a cached response. A missing entry is (nil, nil).
func (c *Cache) Get(period, bankID, key string) (*Response, error) {
	data, err := os.ReadFile(c.path(period, bankID, "response", key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if e.Response == nil {
		return nil, fmt.Errorf("cache entry has no response")
	}
	return e.Response, nil
}

// PutRequest records the payload sent for key.
func (c *Cache) PutRequest(period, bankID, key, modelName string, payload []byte) error {
	return c.write(c.path(period, bankID, "request", key), cacheEntry{Model: modelName, Payload: payload})
}

// PutResponse stores the parsed answer for key.
func (c *Cache) PutResponse(period, bankID, key string, r Response) error {
	return c.write(c.path(period, bankID, "response", key), cacheEntry{Response: &r})
}

func (c *Cache) write(path string, e cacheEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
