package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
	"matching-client/internal/models"
)

func batchOf(n int) []*models.Message {
	out := make([]*models.Message, n)
	for i := range out {
		out[i] = models.NewMessage("t", "SENDER"+string(rune('A'+i)), "+1", "body "+string(rune('a'+i)))
	}
	return out
}

func serve(t *testing.T, status int, body string) (*httptest.Server, *[]models.MatchRequest) {
	t.Helper()
	var got []models.MatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(data, &got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func newTestClient(t *testing.T, url string, strict bool) *Client {
	return NewClient(Config{
		Endpoint:        url,
		MPID:            42,
		Timeout:         2 * time.Second,
		StrictAlignment: strict,
	}, logger.NewTestLogger(t))
}

func TestClassify_RequestShapeAndAlignment(t *testing.T) {
	srv, got := serve(t, http.StatusOK, `{"result":{"matches":[
		{"template_purpose":"transaction","template_id":5,"weight":10},
		{"template_purpose":"service","template_id":7},
		{"template_purpose":null,"template_id":9,"weight":1},
		null
	]}}`)

	batch := batchOf(4)
	results, err := newTestClient(t, srv.URL, false).Classify(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, results, 4)

	require.Len(t, *got, 4)
	for i, req := range *got {
		assert.Equal(t, 42, req.MPID)
		assert.Equal(t, batch[i].Sender, req.Number)
		assert.Equal(t, batch[i].Body, req.Text)
	}

	assert.Equal(t, models.ClassificationTransaction, results[0].Classification)
	assert.Equal(t, int64(5), *results[0].TemplateID)
	assert.Equal(t, int64(10), *results[0].Weight)

	assert.Equal(t, models.ClassificationService, results[1].Classification)
	assert.Equal(t, int64(7), *results[1].TemplateID)
	assert.Nil(t, results[1].Weight)

	assert.Equal(t, models.ClassificationAdvertisement, results[2].Classification)
	assert.Equal(t, int64(9), *results[2].TemplateID)

	assert.Equal(t, models.Unmatched(), results[3])
}

func TestClassify_ShortResponseLeavesTrailingUnmatched(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"result":{"matches":[{"template_purpose":"transaction","template_id":5,"weight":10}]}}`)

	results, err := newTestClient(t, srv.URL, false).Classify(context.Background(), batchOf(3))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, int64(5), *results[0].TemplateID)
	assert.Nil(t, results[1].TemplateID)
	assert.Nil(t, results[2].TemplateID)
}

func TestClassify_ShortResponseStrict(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"result":{"matches":[]}}`)

	_, err := newTestClient(t, srv.URL, true).Classify(context.Background(), batchOf(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrShortResponse))
}

func TestClassify_ExtraResultsIgnored(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"result":{"matches":[{"template_id":1},{"template_id":2},{"template_id":3}]}}`)

	results, err := newTestClient(t, srv.URL, true).Classify(context.Background(), batchOf(2))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), *results[1].TemplateID)
}

func TestClassify_LenientEntryFields(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"result":{"matches":[
		{"template_purpose":"Transaction","template_id":"5","weight":-3},
		{"template_id":4.0,"weight":2.5},
		{}
	]}}`)

	results, err := newTestClient(t, srv.URL, false).Classify(context.Background(), batchOf(3))
	require.NoError(t, err)

	assert.Equal(t, models.ClassificationAdvertisement, results[0].Classification)
	assert.Nil(t, results[0].TemplateID)
	assert.Nil(t, results[0].Weight)

	require.NotNil(t, results[1].TemplateID)
	assert.Equal(t, int64(4), *results[1].TemplateID)
	assert.Nil(t, results[1].Weight)

	assert.Equal(t, models.Unmatched(), results[2])
}

func TestClassify_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad status", http.StatusInternalServerError, `oops`, apperrors.ErrBadStatus},
		{"client error", http.StatusBadRequest, `{"error":"bad mp"}`, apperrors.ErrBadStatus},
		{"invalid json", http.StatusOK, `{"result":`, apperrors.ErrUnparseableResponse},
		{"missing matches", http.StatusOK, `{"result":{}}`, apperrors.ErrUnparseableResponse},
		{"matches not array", http.StatusOK, `{"result":{"matches":{}}}`, apperrors.ErrUnparseableResponse},
		{"entry not object", http.StatusOK, `{"result":{"matches":[3]}}`, apperrors.ErrUnparseableResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serve(t, tt.status, tt.body)
			_, err := newTestClient(t, srv.URL, false).Classify(context.Background(), batchOf(1))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestClassify_TransportFailures(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer slow.Close()

	c := NewClient(Config{Endpoint: slow.URL, MPID: 1, Timeout: 30 * time.Millisecond}, logger.NewNoOpLogger())
	_, err := c.Classify(context.Background(), batchOf(1))
	assert.True(t, errors.Is(err, apperrors.ErrTransport), "got %v", err)

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()

	_, err = newTestClient(t, url, false).Classify(context.Background(), batchOf(1))
	assert.True(t, errors.Is(err, apperrors.ErrTransport), "got %v", err)
}

func TestClassify_EmptyBatchMakesNoCall(t *testing.T) {
	results, err := newTestClient(t, "http://127.0.0.1:1", false).Classify(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestZip(t *testing.T) {
	batch := batchOf(3)
	id := int64(8)
	pairs := Zip(batch, []models.ClassificationResult{{Classification: models.ClassificationService, TemplateID: &id}})

	require.Len(t, pairs, 3)
	assert.Same(t, batch[0], pairs[0].Message)
	assert.Equal(t, models.Unmatched(), pairs[1].Result)
	assert.Equal(t, models.Unmatched(), pairs[2].Result)

	Apply(pairs)
	assert.True(t, batch[0].Matched())
	assert.Equal(t, models.ClassificationService, batch[0].Classification)
	assert.False(t, batch[1].Matched())
}
