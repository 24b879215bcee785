package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
)

type PostgresDB struct {
	db *sql.DB
}

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func NewPostgresDB(ctx context.Context, connectionString string, pool PoolConfig) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresDB{db: db}, nil
}

func (p *PostgresDB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *PostgresDB) Close() error                   { return p.db.Close() }

func (p *PostgresDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Files

func (p *PostgresDB) UpsertFile(ctx context.Context, file models.FileRecord) error {
	meta, err := jsonValue(file.Metadata, "{}")
	if err != nil {
		return err
	}
	query := `
        INSERT INTO file_data (file_id, file_type, meta_data, path)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (file_id, file_type)
        DO UPDATE SET meta_data = EXCLUDED.meta_data, path = EXCLUDED.path, updated_at = now()
    `
	_, err = p.db.ExecContext(ctx, query, file.FileID, file.FileType, meta, file.StoragePath)
	return err
}

func (p *PostgresDB) GetFile(ctx context.Context, fileID string) (*models.FileRecord, error) {
	query := `
        SELECT file_id, file_type, meta_data, path
        FROM file_data
        WHERE file_id = $1
        ORDER BY file_type
        LIMIT 1
    `
	file, err := scanFile(p.db.QueryRowContext(ctx, query, fileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return file, err
}

func (p *PostgresDB) UpdateMetadata(ctx context.Context, fileID string, metadata map[string]any) (*models.FileRecord, error) {
	meta, err := jsonValue(metadata, "{}")
	if err != nil {
		return nil, err
	}
	query := `
        UPDATE file_data
        SET meta_data = $2, updated_at = now()
        WHERE (file_id, file_type) = (
            SELECT file_id, file_type FROM file_data WHERE file_id = $1 ORDER BY file_type LIMIT 1
        )
        RETURNING file_id, file_type, meta_data, path
    `
	file, err := scanFile(p.db.QueryRowContext(ctx, query, fileID, meta))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return file, err
}

func (p *PostgresDB) GetFilesByKeys(ctx context.Context, keys []models.Key) ([]models.FileRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids, types := keyArrays(keys)
	query := `
        SELECT f.file_id, f.file_type, f.meta_data, f.path
        FROM file_data f
        JOIN unnest($1::text[], $2::text[]) AS k(file_id, file_type)
          ON f.file_id = k.file_id AND f.file_type = k.file_type
        ORDER BY f.file_type, f.file_id
    `
	rows, err := p.db.QueryContext(ctx, query, ids, types)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (p *PostgresDB) ListFileKeys(ctx context.Context) ([]models.Key, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT file_id, file_type FROM file_data ORDER BY file_type, file_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

// Rules

func (p *PostgresDB) CompressionRules(ctx context.Context) ([]models.CompressionRule, error) {
	query := `
        SELECT file_type, file_format, compress_name, width, resampling
        FROM compress_rules
        ORDER BY file_type, compress_name, file_format
    `
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.CompressionRule
	for rows.Next() {
		var r models.CompressionRule
		var resample string
		if err := rows.Scan(&r.FileType, &r.OutputFormat, &r.VariantName, &r.TargetWidth, &resample); err != nil {
			return nil, err
		}
		r.Resample = models.Resample(resample)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (p *PostgresDB) ModerationRules(ctx context.Context) ([]models.ModerationRule, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT file_type, ls_data FROM moderation_rules ORDER BY file_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.ModerationRule
	for rows.Next() {
		var r models.ModerationRule
		var ls []byte
		if err := rows.Scan(&r.FileType, &ls); err != nil {
			return nil, err
		}
		if err := scanJSON(ls, &r.LabelData); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ReplaceRules deletes and re-inserts both rule tables inside one
// transaction. A lock on the version table serializes concurrent loads. When
// the document changed, every file is queued for each stage in requeue before
// the transaction commits.
func (p *PostgresDB) ReplaceRules(ctx context.Context, doc models.RuleDocument, checksum string, requeue []string) (bool, error) {
	changed := false
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE rule_set_versions IN EXCLUSIVE MODE`); err != nil {
			return err
		}
		var current string
		err := tx.QueryRowContext(ctx, `SELECT checksum FROM rule_set_versions ORDER BY version DESC LIMIT 1`).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil && current == checksum {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM compress_rules`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM moderation_rules`); err != nil {
			return err
		}
		for _, r := range doc.Compress {
			_, err := tx.ExecContext(ctx, `
                INSERT INTO compress_rules (file_type, file_format, compress_name, width, resampling)
                VALUES ($1, $2, $3, $4, $5)
            `, r.FileType, r.OutputFormat, r.VariantName, r.TargetWidth, string(r.Resample))
			if err != nil {
				return fmt.Errorf("insert compress rule %s/%s: %w", r.FileType, r.VariantName, err)
			}
		}
		for _, r := range doc.Moderation {
			ls, err := jsonValue(r.LabelData, "{}")
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO moderation_rules (file_type, ls_data) VALUES ($1, $2)`, r.FileType, ls); err != nil {
				return fmt.Errorf("insert moderation rule %s: %w", r.FileType, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO rule_set_versions (checksum) VALUES ($1)`, checksum); err != nil {
			return err
		}
		if err := requeueAll(ctx, tx, requeue); err != nil {
			return fmt.Errorf("requeue files: %w", err)
		}
		changed = true
		return nil
	})
	return changed, err
}

func (p *PostgresDB) ActiveRuleSet(ctx context.Context) (*models.RuleSetVersion, error) {
	var v models.RuleSetVersion
	err := p.db.QueryRowContext(ctx, `
        SELECT version, checksum, applied_at FROM rule_set_versions ORDER BY version DESC LIMIT 1
    `).Scan(&v.Version, &v.Checksum, &v.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrConfigMissing
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Variants

func (p *PostgresDB) ListVariants(ctx context.Context, keys []models.Key) ([]models.CompressedVariant, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids, types := keyArrays(keys)
	query := `
        SELECT v.file_id, v.file_type, v.file_format, v.compress_name, v.path, v.checksum
        FROM compressed_variants v
        JOIN unnest($1::text[], $2::text[]) AS k(file_id, file_type)
          ON v.file_id = k.file_id AND v.file_type = k.file_type
        ORDER BY v.file_type, v.file_id, v.compress_name, v.file_format
    `
	rows, err := p.db.QueryContext(ctx, query, ids, types)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CompressedVariant
	for rows.Next() {
		var v models.CompressedVariant
		if err := rows.Scan(&v.FileID, &v.FileType, &v.OutputFormat, &v.VariantName, &v.StoragePath, &v.Checksum); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ReplaceVariants holds a share lock on the file row while it writes, so it
// either runs before a CascadeDelete of the same file or sees the file gone.
func (p *PostgresDB) ReplaceVariants(ctx context.Context, key models.Key, variants []models.CompressedVariant) ([]models.CompressedVariant, error) {
	var removed []models.CompressedVariant
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		if len(variants) > 0 {
			var one int
			err := tx.QueryRowContext(ctx, `
                SELECT 1 FROM file_data WHERE file_id = $1 AND file_type = $2 FOR SHARE
            `, key.FileID, key.FileType).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("file %s: %w", key, models.ErrNotFound)
			}
			if err != nil {
				return err
			}
		}
		formats := make([]string, len(variants))
		names := make([]string, len(variants))
		for i, v := range variants {
			formats[i], names[i] = v.OutputFormat, v.VariantName
		}
		rows, err := tx.QueryContext(ctx, `
            DELETE FROM compressed_variants
            WHERE file_id = $1 AND file_type = $2
              AND (file_format, compress_name) NOT IN (
                  SELECT * FROM unnest($3::text[], $4::text[])
              )
            RETURNING file_id, file_type, file_format, compress_name, path, checksum
        `, key.FileID, key.FileType, pq.Array(formats), pq.Array(names))
		if err != nil {
			return err
		}
		for rows.Next() {
			var v models.CompressedVariant
			if err := rows.Scan(&v.FileID, &v.FileType, &v.OutputFormat, &v.VariantName, &v.StoragePath, &v.Checksum); err != nil {
				rows.Close()
				return err
			}
			removed = append(removed, v)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, v := range variants {
			_, err := tx.ExecContext(ctx, `
                INSERT INTO compressed_variants (file_id, file_type, file_format, compress_name, path, checksum)
                VALUES ($1, $2, $3, $4, $5, $6)
                ON CONFLICT (file_id, file_type, file_format, compress_name)
                DO UPDATE SET path = EXCLUDED.path, checksum = EXCLUDED.checksum
            `, key.FileID, key.FileType, v.OutputFormat, v.VariantName, v.StoragePath, v.Checksum)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Exclusions

func (p *PostgresDB) ListExclusions(ctx context.Context, keys []models.Key) ([]models.ModerationExclusion, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids, types := keyArrays(keys)
	rows, err := p.db.QueryContext(ctx, `
        SELECT e.file_id, e.file_type
        FROM moderation_exclusions e
        JOIN unnest($1::text[], $2::text[]) AS k(file_id, file_type)
          ON e.file_id = k.file_id AND e.file_type = k.file_type
    `, ids, types)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

func (p *PostgresDB) AddExclusion(ctx context.Context, key models.Key) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO moderation_exclusions (file_id, file_type) VALUES ($1, $2)
        ON CONFLICT DO NOTHING
    `, key.FileID, key.FileType)
	return err
}

func (p *PostgresDB) RemoveExclusion(ctx context.Context, key models.Key) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM moderation_exclusions WHERE file_id = $1 AND file_type = $2`, key.FileID, key.FileType)
	return err
}

// Candidates

func (p *PostgresDB) ListCandidates(ctx context.Context, keys []models.Key) ([]models.ModerationCandidate, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids, types := keyArrays(keys)
	rows, err := p.db.QueryContext(ctx, `
        SELECT c.file_id, c.file_type, c.file_url, c.file_gs_url, c.checksum, c.ls_data
        FROM moderation_candidates c
        JOIN unnest($1::text[], $2::text[]) AS k(file_id, file_type)
          ON c.file_id = k.file_id AND c.file_type = k.file_type
        ORDER BY c.file_type, c.file_id
    `, ids, types)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ModerationCandidate
	for rows.Next() {
		var c models.ModerationCandidate
		var ls []byte
		if err := rows.Scan(&c.FileID, &c.FileType, &c.AccessURL, &c.SourcePath, &c.Checksum, &ls); err != nil {
			return nil, err
		}
		if err := scanJSON(ls, &c.LabelDefaults); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceCandidates share-locks the live file rows before inserting, like
// ReplaceVariants, then drops every verdict of keys that no longer matches
// its candidate.
func (p *PostgresDB) ReplaceCandidates(ctx context.Context, keys []models.Key, candidates []models.ModerationCandidate) error {
	ids, types := keyArrays(keys)
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
            DELETE FROM moderation_candidates
            WHERE (file_id, file_type) IN (SELECT * FROM unnest($1::text[], $2::text[]))
        `, ids, types); err != nil {
			return err
		}

		live, err := lockFiles(ctx, tx, candidates)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if !live[c.Key()] {
				continue
			}
			ls, err := jsonValue(c.LabelDefaults, "{}")
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO moderation_candidates (file_id, file_type, file_url, file_gs_url, checksum, ls_data)
                VALUES ($1, $2, $3, $4, $5, $6)
            `, c.FileID, c.FileType, c.AccessURL, c.SourcePath, c.Checksum, ls); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
            DELETE FROM automated_verdicts v
            WHERE (v.file_id, v.file_type) IN (SELECT * FROM unnest($1::text[], $2::text[]))
              AND NOT EXISTS (
                  SELECT 1 FROM moderation_candidates c
                  WHERE c.file_id = v.file_id AND c.file_type = v.file_type
                    AND c.file_gs_url = v.file_gs_url AND c.checksum = v.checksum
              )
        `, ids, types)
		return err
	})
}

// lockFiles share-locks the file rows behind candidates and returns the keys
// that still exist.
func lockFiles(ctx context.Context, tx *sql.Tx, candidates []models.ModerationCandidate) (map[models.Key]bool, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	keys := make([]models.Key, len(candidates))
	for i, c := range candidates {
		keys[i] = c.Key()
	}
	ids, types := keyArrays(keys)
	rows, err := tx.QueryContext(ctx, `
        SELECT f.file_id, f.file_type
        FROM file_data f
        WHERE (f.file_id, f.file_type) IN (SELECT * FROM unnest($1::text[], $2::text[]))
        FOR SHARE
    `, ids, types)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found, err := scanKeys(rows)
	if err != nil {
		return nil, err
	}
	return keySet(found), nil
}

// Verdicts

func (p *PostgresDB) ListVerdicts(ctx context.Context, keys []models.Key) ([]models.AutomatedVerdict, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids, types := keyArrays(keys)
	rows, err := p.db.QueryContext(ctx, `
        SELECT v.file_id, v.file_type, v.file_gs_url, v.checksum, v.google_details
        FROM automated_verdicts v
        JOIN unnest($1::text[], $2::text[]) AS k(file_id, file_type)
          ON v.file_id = k.file_id AND v.file_type = k.file_type
    `, ids, types)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AutomatedVerdict
	for rows.Next() {
		var v models.AutomatedVerdict
		var details []byte
		if err := rows.Scan(&v.FileID, &v.FileType, &v.SourcePath, &v.Checksum, &details); err != nil {
			return nil, err
		}
		if err := scanJSON(details, &v.ClassifierOutput); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *PostgresDB) UpsertVerdicts(ctx context.Context, verdicts []models.AutomatedVerdict) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		for _, v := range verdicts {
			var details any
			if v.ClassifierOutput != nil {
				b, err := jsonValue(v.ClassifierOutput, "{}")
				if err != nil {
					return err
				}
				details = b
			}
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO automated_verdicts (file_id, file_type, file_gs_url, checksum, google_details)
                VALUES ($1, $2, $3, $4, $5)
                ON CONFLICT (file_id, file_type) DO UPDATE SET
                    file_gs_url = EXCLUDED.file_gs_url,
                    checksum = EXCLUDED.checksum,
                    google_details = EXCLUDED.google_details
            `, v.FileID, v.FileType, v.SourcePath, v.Checksum, details); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *PostgresDB) DeleteVerdicts(ctx context.Context, keys []models.Key) error {
	ids, types := keyArrays(keys)
	_, err := p.db.ExecContext(ctx, `
        DELETE FROM automated_verdicts
        WHERE (file_id, file_type) IN (SELECT * FROM unnest($1::text[], $2::text[]))
    `, ids, types)
	return err
}

// Tasks

func (p *PostgresDB) ReplaceTasks(ctx context.Context, keys []models.Key, tasks []models.ModerationTask) error {
	ids, types := keyArrays(keys)
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
            DELETE FROM moderation_tasks
            WHERE (file_id, file_type) IN (SELECT * FROM unnest($1::text[], $2::text[]))
        `, ids, types); err != nil {
			return err
		}
		for _, t := range tasks {
			meta, err := jsonValue(t.Metadata, "{}")
			if err != nil {
				return err
			}
			ls, err := jsonValue(t.LabelDefaults, "{}")
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO moderation_tasks (file_id, file_type, meta_data, google_review_status, file_url, ls_data)
                VALUES ($1, $2, $3, $4, $5, $6)
            `, t.FileID, t.FileType, meta, string(t.AutomatedStatus), t.AccessURL, ls); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *PostgresDB) ListTasks(ctx context.Context, limit, offset int) ([]models.ModerationTask, error) {
	query := `
        SELECT file_id, file_type, meta_data, google_review_status, file_url, ls_data
        FROM moderation_tasks
        ORDER BY file_type, file_id
        LIMIT $1 OFFSET $2
    `
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := p.db.QueryContext(ctx, query, lim, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ModerationTask
	for rows.Next() {
		var t models.ModerationTask
		var meta, ls []byte
		var status string
		if err := rows.Scan(&t.FileID, &t.FileType, &meta, &status, &t.AccessURL, &ls); err != nil {
			return nil, err
		}
		t.AutomatedStatus = models.AutomatedStatus(status)
		if err := scanJSON(meta, &t.Metadata); err != nil {
			return nil, err
		}
		if err := scanJSON(ls, &t.LabelDefaults); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Review

func (p *PostgresDB) UpsertManualVerdicts(ctx context.Context, verdicts []models.ManualVerdict) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		for _, v := range verdicts {
			entries, err := jsonValue(v.Entries, "[]")
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO manual_verdicts (file_id, file_type, moderation_data, last_reviewed)
                VALUES ($1, $2, $3, $4)
                ON CONFLICT (file_id, file_type)
                DO UPDATE SET moderation_data = EXCLUDED.moderation_data, last_reviewed = EXCLUDED.last_reviewed
            `, v.FileID, v.FileType, entries, v.ReviewedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *PostgresDB) ListManualVerdicts(ctx context.Context, keys []models.Key) ([]models.ManualVerdict, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids, types := keyArrays(keys)
	rows, err := p.db.QueryContext(ctx, `
        SELECT m.file_id, m.file_type, m.moderation_data, m.last_reviewed
        FROM manual_verdicts m
        JOIN unnest($1::text[], $2::text[]) AS k(file_id, file_type)
          ON m.file_id = k.file_id AND m.file_type = k.file_type
    `, ids, types)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ManualVerdict
	for rows.Next() {
		var v models.ManualVerdict
		var entries []byte
		if err := rows.Scan(&v.FileID, &v.FileType, &entries, &v.ReviewedAt); err != nil {
			return nil, err
		}
		if err := scanJSON(entries, &v.Entries); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *PostgresDB) ListDeletions(ctx context.Context, keys []models.Key) ([]models.DeletionRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids, types := keyArrays(keys)
	rows, err := p.db.QueryContext(ctx, `
        SELECT d.file_id, d.file_type, d.last_reviewed
        FROM deletion_records d
        JOIN unnest($1::text[], $2::text[]) AS k(file_id, file_type)
          ON d.file_id = k.file_id AND d.file_type = k.file_type
    `, ids, types)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DeletionRecord
	for rows.Next() {
		var d models.DeletionRecord
		if err := rows.Scan(&d.FileID, &d.FileType, &d.ReviewedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// cascadeTables lists every table holding rows derived from a file.
var cascadeTables = []string{
	"compressed_variants",
	"moderation_candidates",
	"automated_verdicts",
	"moderation_tasks",
	"manual_verdicts",
	"moderation_exclusions",
	"file_data",
}

// CascadeDelete records the deletion, removes the file with everything
// derived from it and queues the blob purge in one transaction.
func (p *PostgresDB) CascadeDelete(ctx context.Context, rec models.DeletionRecord) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		// Lock the file row first so a concurrent ReplaceVariants or
		// ReplaceCandidates either finishes before us or sees no file.
		if _, err := tx.ExecContext(ctx, `
            SELECT 1 FROM file_data WHERE file_id = $1 AND file_type = $2 FOR UPDATE
        `, rec.FileID, rec.FileType); err != nil {
			return fmt.Errorf("lock file: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO deletion_records (file_id, file_type, last_reviewed)
            VALUES ($1, $2, $3)
            ON CONFLICT (file_id, file_type) DO UPDATE SET last_reviewed = EXCLUDED.last_reviewed
        `, rec.FileID, rec.FileType, rec.ReviewedAt); err != nil {
			return fmt.Errorf("insert deletion record: %w", err)
		}
		for _, table := range cascadeTables {
			query := `DELETE FROM ` + table + ` WHERE file_id = $1 AND file_type = $2`
			if _, err := tx.ExecContext(ctx, query, rec.FileID, rec.FileType); err != nil {
				return fmt.Errorf("delete from %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
            DELETE FROM stage_jobs WHERE file_id = $1 AND file_type = $2 AND stage <> $3
        `, rec.FileID, rec.FileType, pipeline.StagePurge); err != nil {
			return err
		}
		return enqueue(ctx, tx, pipeline.StagePurge, []models.Key{rec.Key()})
	})
}
