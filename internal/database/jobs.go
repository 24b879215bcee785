package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/PaulBabatuyi/filebox/internal/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// enqueue upserts one job per key. A key that is already queued gets a new
// seq and loses any lease, so a run in progress cannot acknowledge it.
func enqueue(ctx context.Context, db execer, stage string, keys []models.Key) error {
	if len(keys) == 0 {
		return nil
	}
	ids, types := keyArrays(keys)
	_, err := db.ExecContext(ctx, `
        INSERT INTO stage_jobs (stage, file_id, file_type)
        SELECT $1, k.file_id, k.file_type
        FROM unnest($2::text[], $3::text[]) AS k(file_id, file_type)
        ON CONFLICT (stage, file_id, file_type)
        DO UPDATE SET seq = nextval('stage_jobs_seq'), leased_until = NULL
    `, stage, ids, types)
	return err
}

// requeueAll queues every stored file for each of stages.
func requeueAll(ctx context.Context, db execer, stages []string) error {
	if len(stages) == 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, `
        INSERT INTO stage_jobs (stage, file_id, file_type)
        SELECT s.stage, f.file_id, f.file_type
        FROM file_data f CROSS JOIN unnest($1::text[]) AS s(stage)
        ON CONFLICT (stage, file_id, file_type)
        DO UPDATE SET seq = nextval('stage_jobs_seq'), leased_until = NULL
    `, pq.StringArray(stages))
	return err
}

func (p *PostgresDB) Enqueue(ctx context.Context, stage string, keys []models.Key) error {
	return enqueue(ctx, p.db, stage, keys)
}

// Claim leases the oldest unleased jobs of stage. SKIP LOCKED lets several
// runners poll the same stage.
func (p *PostgresDB) Claim(ctx context.Context, stage string, limit int, lease time.Duration) ([]models.Job, error) {
	rows, err := p.db.QueryContext(ctx, `
        UPDATE stage_jobs
        SET leased_until = now() + make_interval(secs => $3)
        WHERE (stage, file_id, file_type) IN (
            SELECT stage, file_id, file_type
            FROM stage_jobs
            WHERE stage = $1 AND (leased_until IS NULL OR leased_until < now())
            ORDER BY seq
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING file_id, file_type, seq, enqueued_at
    `, stage, limit, lease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job := models.Job{Stage: stage}
		if err := rows.Scan(&job.Key.FileID, &job.Key.FileType, &job.Seq, &job.EnqueuedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (p *PostgresDB) Ack(ctx context.Context, jobs []models.Job) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		for _, job := range jobs {
			if _, err := tx.ExecContext(ctx, `
                DELETE FROM stage_jobs WHERE stage = $1 AND file_id = $2 AND file_type = $3 AND seq = $4
            `, job.Stage, job.Key.FileID, job.Key.FileType, job.Seq); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *PostgresDB) Release(ctx context.Context, jobs []models.Job) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		for _, job := range jobs {
			if _, err := tx.ExecContext(ctx, `
                UPDATE stage_jobs SET leased_until = NULL
                WHERE stage = $1 AND file_id = $2 AND file_type = $3 AND seq = $4
            `, job.Stage, job.Key.FileID, job.Key.FileType, job.Seq); err != nil {
				return err
			}
		}
		return nil
	})
}
