// Package classifier submits message batches to the template-matching service
// and aligns its answers with the request positions.
package classifier

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	apperrors "matching-client/internal/common/errors"
	apphttp "matching-client/internal/common/http"
	"matching-client/internal/common/logger"
	"matching-client/internal/common/metrics"
	"matching-client/internal/common/validation"
	"matching-client/internal/models"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// envelopeSchema accepts any object carrying result.matches as an array whose
// entries are objects or null. Entry fields are read leniently.
var envelopeSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["result"],
	"properties": {
		"result": {
			"type": "object",
			"required": ["matches"],
			"properties": {
				"matches": {
					"type": "array",
					"items": {"type": ["object", "null"]}
				}
			}
		}
	}
}`)

type Config struct {
	Endpoint string
	MPID     int
	Timeout  time.Duration
	// StrictAlignment turns a short response into a run-ending error instead
	// of leaving the trailing messages unmatched.
	StrictAlignment bool
}

type Client struct {
	cfg    Config
	http   *apphttp.Client
	logger logger.Logger
}

func NewClient(cfg Config, log logger.Logger) *Client {
	return NewClientWithHTTP(cfg, apphttp.NewClient(cfg.Timeout), log)
}

// NewClientWithHTTP lets tests inject the transport.
func NewClientWithHTTP(cfg Config, hc *apphttp.Client, log logger.Logger) *Client {
	return &Client{cfg: cfg, http: hc, logger: log}
}

// Classify sends one request for batch and returns exactly len(batch) results,
// result i belonging to batch[i]. Messages the service returned nothing for
// get models.Unmatched().
func (c *Client) Classify(ctx context.Context, batch []*models.Message) ([]models.ClassificationResult, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	payload := make([]models.MatchRequest, len(batch))
	for i, msg := range batch {
		payload[i] = models.MatchRequest{MPID: c.cfg.MPID, Number: msg.Sender, Text: msg.Body}
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	metrics.BatchesInFlight.Inc()
	start := time.Now()
	resp, err := c.http.PostJSON(ctx, c.cfg.Endpoint, payload)
	metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
	metrics.BatchesInFlight.Dec()
	if err != nil {
		return nil, apperrors.NewTransportError(err)
	}
	if !resp.OK() {
		return nil, apperrors.NewBadStatusError(resp.StatusCode, truncate(resp.Body, maxErrorBody))
	}

	matches, err := parseMatches(resp.Body)
	if err != nil {
		return nil, err
	}

	return c.align(batch, matches)
}

func parseMatches(body []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, apperrors.NewUnparseableResponseError("response is not valid JSON: "+truncate(body, maxErrorBody), nil)
	}

	res, err := envelopeSchema.ValidateBytes(body)
	if err != nil {
		return nil, apperrors.NewUnparseableResponseError(err.Error(), err)
	}
	if !res.Valid {
		return nil, apperrors.NewUnparseableResponseError("response envelope: "+res.Summary(), nil)
	}

	return gjson.GetBytes(body, "result.matches").Array(), nil
}

func (c *Client) align(batch []*models.Message, matches []gjson.Result) ([]models.ClassificationResult, error) {
	k, j := len(batch), len(matches)

	if j > k {
		c.logger.Warn("matching service returned extra results; ignoring them", map[string]interface{}{
			"requested": k,
			"returned":  j,
		})
		matches = matches[:k]
	}

	if j < k {
		metrics.ShortResponses.Inc()
		if c.cfg.StrictAlignment {
			return nil, apperrors.NewShortResponseError(k, j)
		}
		c.logger.Warn("matching service returned fewer results than requested", map[string]interface{}{
			"requested":  k,
			"returned":   j,
			"errorCode":  string(apperrors.ErrCodeShortResponse),
			"unmatched":  k - j,
		})
	}

	results := make([]models.ClassificationResult, k)
	for i := range results {
		if i < len(matches) {
			results[i] = toResult(matches[i])
		} else {
			results[i] = models.Unmatched()
		}
	}
	return results, nil
}

func toResult(m gjson.Result) models.ClassificationResult {
	if !m.IsObject() {
		return models.Unmatched()
	}

	out := models.ClassificationResult{Classification: models.ClassificationAdvertisement}
	if p := m.Get("template_purpose"); p.Type == gjson.String {
		out.Classification = models.ParsePurpose(p.Str)
	}
	out.TemplateID = nonNegativeInt(m.Get("template_id"))
	out.Weight = nonNegativeInt(m.Get("weight"))
	return out
}

// nonNegativeInt reads a JSON number holding a non-negative integer; any other
// value, including numeric strings, reads as absent.
func nonNegativeInt(v gjson.Result) *int64 {
	if v.Type != gjson.Number {
		return nil
	}
	if n, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
		if n < 0 {
			return nil
		}
		return &n
	}
	f := v.Num
	if f < 0 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return nil
	}
	n := int64(f)
	return &n
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
