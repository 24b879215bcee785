package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/PaulBabatuyi/filebox/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var f models.FileRecord
	var meta []byte
	if err := row.Scan(&f.FileID, &f.FileType, &meta, &f.StoragePath); err != nil {
		return nil, err
	}
	if err := scanJSON(meta, &f.Metadata); err != nil {
		return nil, err
	}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	return &f, nil
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanKeys(rows rowsScanner) ([]models.Key, error) {
	var keys []models.Key
	for rows.Next() {
		var k models.Key
		if err := rows.Scan(&k.FileID, &k.FileType); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// keyArrays splits keys into two parallel text arrays for unnest joins.
func keyArrays(keys []models.Key) (driver.Valuer, driver.Valuer) {
	ids := make([]string, len(keys))
	types := make([]string, len(keys))
	for i, k := range keys {
		ids[i], types[i] = k.FileID, k.FileType
	}
	return pq.StringArray(ids), pq.StringArray(types)
}

// jsonValue encodes v for a jsonb column, substituting empty when v is nil.
func jsonValue(v any, empty string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	if string(b) == "null" {
		return []byte(empty), nil
	}
	return b, nil
}

// scanJSON decodes a jsonb column. SQL NULL leaves v untouched.
func scanJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode jsonb: %w", err)
	}
	return nil
}

func keySet(keys []models.Key) map[models.Key]bool {
	set := make(map[models.Key]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
