package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
	"matching-client/internal/models"
)

// RedisPublisher caches the latest run summaries for dashboards:
//
//	<prefix>:run:<id>            hash of summary fields
//	<prefix>:run:<id>:templates  hash of template id -> {"messageCount":..,"totalWeight":..}
//	<prefix>:latest              id of the most recently published run
type RedisPublisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logger.Logger
}

func NewRedisPublisher(client *redis.Client, prefix string, ttl time.Duration, log logger.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) RunKey(runID string) string {
	return fmt.Sprintf("%s:run:%s", p.prefix, runID)
}

func (p *RedisPublisher) TemplatesKey(runID string) string {
	return p.RunKey(runID) + ":templates"
}

func (p *RedisPublisher) LatestKey() string {
	return p.prefix + ":latest"
}

func (p *RedisPublisher) Publish(ctx context.Context, summary *models.RunSummary) error {
	runKey := p.RunKey(summary.RunID)
	templatesKey := p.TemplatesKey(summary.RunID)

	// Field/value pairs in template order.
	templates := make([]interface{}, 0, 2*len(summary.Templates))
	for _, row := range summary.Templates {
		data, err := json.Marshal(models.TemplateStat{MessageCount: row.MessageCount, TotalWeight: row.TotalWeight})
		if err != nil {
			return apperrors.NewPublishFailedError(p.Name(), err)
		}
		templates = append(templates, strconv.FormatInt(row.TemplateID, 10), string(data))
	}

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, runKey, templatesKey)
		pipe.HSet(ctx, runKey, summaryFields(summary)...)
		if len(templates) > 0 {
			pipe.HSet(ctx, templatesKey, templates...)
		}
		pipe.Set(ctx, p.LatestKey(), summary.RunID, p.ttl)
		if p.ttl > 0 {
			pipe.Expire(ctx, runKey, p.ttl)
			if len(templates) > 0 {
				pipe.Expire(ctx, templatesKey, p.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.NewPublishFailedError(p.Name(), err)
	}

	p.log.Debug("run summary cached", map[string]interface{}{"key": runKey})
	return nil
}

func summaryFields(s *models.RunSummary) []interface{} {
	return []interface{}{
		"status", string(s.Status),
		"startedAt", s.StartedAt.UTC().Format(time.RFC3339Nano),
		"finishedAt", s.FinishedAt.UTC().Format(time.RFC3339Nano),
		"batches", strconv.FormatInt(s.BatchesProcessed, 10),
		"capped", strconv.FormatBool(s.Capped),
		"matched", strconv.FormatInt(s.MatchedMessages, 10),
		"unmatched", strconv.FormatInt(s.UnmatchedMessages, 10),
	}
}
