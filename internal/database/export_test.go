package database

import "context"

// Truncate empties every table between integration subtests.
func (p *PostgresDB) Truncate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
        TRUNCATE file_data, rule_set_versions, compress_rules, moderation_rules,
                 compressed_variants, moderation_exclusions, moderation_candidates,
                 automated_verdicts, moderation_tasks, manual_verdicts, deletion_records,
                 stage_jobs
    `)
	return err
}
