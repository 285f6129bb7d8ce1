// Package publish mirrors finished runs into external stores.
package publish

import (
	"context"
	"database/sql"
	"fmt"

	"matching-client/internal/common/database"
	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
	"matching-client/internal/models"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS run_summaries (
	run_id             TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	started_at         TIMESTAMPTZ NOT NULL,
	finished_at        TIMESTAMPTZ NOT NULL,
	batches_processed  BIGINT NOT NULL,
	capped             BOOLEAN NOT NULL,
	matched_messages   BIGINT NOT NULL,
	unmatched_messages BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS template_stats (
	run_id        TEXT NOT NULL REFERENCES run_summaries (run_id) ON DELETE CASCADE,
	template_id   BIGINT NOT NULL,
	message_count BIGINT NOT NULL,
	total_weight  BIGINT NOT NULL,
	PRIMARY KEY (run_id, template_id)
)`

const upsertRunSQL = `
INSERT INTO run_summaries (
	run_id, status, started_at, finished_at,
	batches_processed, capped, matched_messages, unmatched_messages
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (run_id) DO UPDATE SET
	status = EXCLUDED.status,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at,
	batches_processed = EXCLUDED.batches_processed,
	capped = EXCLUDED.capped,
	matched_messages = EXCLUDED.matched_messages,
	unmatched_messages = EXCLUDED.unmatched_messages`

const deleteTemplateStatsSQL = `DELETE FROM template_stats WHERE run_id = $1`

const insertTemplateStatSQL = `
INSERT INTO template_stats (run_id, template_id, message_count, total_weight)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id, template_id) DO UPDATE SET
	message_count = EXCLUDED.message_count,
	total_weight = EXCLUDED.total_weight`

// PostgresPublisher writes the run summary and its per-template rows in one
// transaction. Publishing the same run twice replaces the earlier rows.
type PostgresPublisher struct {
	client *database.PostgresClient
	log    logger.Logger
}

func NewPostgresPublisher(client *database.PostgresClient, log logger.Logger) *PostgresPublisher {
	return &PostgresPublisher{client: client, log: log}
}

func (p *PostgresPublisher) Name() string { return "postgres" }

// EnsureSchema creates the tables if they do not exist.
func (p *PostgresPublisher) EnsureSchema(ctx context.Context) error {
	if _, err := p.client.DB.ExecContext(ctx, schemaDDL); err != nil {
		return apperrors.NewPublishFailedError(p.Name(), fmt.Errorf("ensure schema: %w", err))
	}
	return nil
}

func (p *PostgresPublisher) Publish(ctx context.Context, summary *models.RunSummary) error {
	err := p.client.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, upsertRunSQL,
			summary.RunID,
			string(summary.Status),
			summary.StartedAt,
			summary.FinishedAt,
			summary.BatchesProcessed,
			summary.Capped,
			summary.MatchedMessages,
			summary.UnmatchedMessages,
		)
		if err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}

		if _, err := tx.ExecContext(ctx, deleteTemplateStatsSQL, summary.RunID); err != nil {
			return fmt.Errorf("clear template stats: %w", err)
		}
		if len(summary.Templates) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, insertTemplateStatSQL)
		if err != nil {
			return fmt.Errorf("prepare template stats: %w", err)
		}
		defer stmt.Close()

		for _, row := range summary.Templates {
			if _, err := stmt.ExecContext(ctx, summary.RunID, row.TemplateID, row.MessageCount, row.TotalWeight); err != nil {
				return fmt.Errorf("insert template %d: %w", row.TemplateID, err)
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.NewPublishFailedError(p.Name(), err)
	}

	p.log.Debug("run summary stored", map[string]interface{}{
		"runId":     summary.RunID,
		"templates": len(summary.Templates),
	})
	return nil
}
