package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/tidwall/gjson"

	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
	"matching-client/internal/models"
)

type residualDoc struct {
	RunID            string                `json:"runId"`
	Seq              int64                 `json:"seq"`
	Position         int                   `json:"position"`
	ReceivedAt       string                `json:"receivedAt"`
	Sender           string                `json:"sender"`
	RecipientAddress string                `json:"recipientAddress"`
	Body             string                `json:"body"`
	Classification   models.Classification `json:"classification"`
	IndexedAt        time.Time             `json:"indexedAt"`
}

// ResidualIndexer bulk-indexes each chunk's unmatched messages so they can be
// searched while the run is still going. Document ids are
// <runId>-<seq>-<position>, so a re-run of the same id overwrites.
type ResidualIndexer struct {
	client *elasticsearch.Client
	index  string
	log    logger.Logger
}

func NewResidualIndexer(client *elasticsearch.Client, index string, log logger.Logger) *ResidualIndexer {
	return &ResidualIndexer{client: client, index: index, log: log}
}

func (r *ResidualIndexer) Name() string { return "elasticsearch" }

func (r *ResidualIndexer) ObserveResidual(ctx context.Context, runID string, seq int64, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	body, err := r.bulkBody(runID, seq, msgs)
	if err != nil {
		return apperrors.NewPublishFailedError(r.Name(), err)
	}

	res, err := r.client.Bulk(
		bytes.NewReader(body),
		r.client.Bulk.WithContext(ctx),
		r.client.Bulk.WithIndex(r.index),
	)
	if err != nil {
		return apperrors.NewPublishFailedError(r.Name(), err)
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return apperrors.NewPublishFailedError(r.Name(), err)
	}
	if res.IsError() {
		return apperrors.NewPublishFailedError(r.Name(), fmt.Errorf("bulk request: %s", res.Status()))
	}
	if gjson.GetBytes(respBody, "errors").Bool() {
		return apperrors.NewPublishFailedError(r.Name(), fmt.Errorf("bulk item failed: %s", firstItemError(respBody)))
	}

	r.log.Debug("residual indexed", map[string]interface{}{
		"seq":       seq,
		"documents": len(msgs),
	})
	return nil
}

func (r *ResidualIndexer) bulkBody(runID string, seq int64, msgs []*models.Message) ([]byte, error) {
	var buf bytes.Buffer
	now := time.Now().UTC()
	for i, msg := range msgs {
		meta := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": r.index,
				"_id":    fmt.Sprintf("%s-%d-%d", runID, seq, i),
			},
		}
		doc := residualDoc{
			RunID:            runID,
			Seq:              seq,
			Position:         i,
			ReceivedAt:       msg.ReceivedAt,
			Sender:           msg.Sender,
			RecipientAddress: msg.RecipientAddress,
			Body:             msg.Body,
			Classification:   msg.Classification,
			IndexedAt:        now,
		}
		for _, v := range []interface{}{meta, doc} {
			line, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

func firstItemError(body []byte) string {
	reason := "unknown"
	gjson.GetBytes(body, "items").ForEach(func(_, item gjson.Result) bool {
		if e := item.Get("index.error"); e.Exists() {
			reason = e.Get("type").String() + ": " + e.Get("reason").String()
			return false
		}
		return true
	})
	return reason
}
