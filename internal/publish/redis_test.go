package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
)

// ==========================
// Redis publisher
// ==========================

func newRedisPublisher(t *testing.T, ttl time.Duration) (*RedisPublisher, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisPublisher(client, "matching", ttl, logger.NewTestLogger(t)), mr
}

func TestRedisPublisher_Publish(t *testing.T) {
	pub, mr := newRedisPublisher(t, 0)

	require.NoError(t, pub.Publish(context.Background(), testSummary()))

	assert.Equal(t, "matching:run:run-1", pub.RunKey("run-1"))
	assert.Equal(t, "done", mr.HGet("matching:run:run-1", "status"))
	assert.Equal(t, "3", mr.HGet("matching:run:run-1", "batches"))
	assert.Equal(t, "5", mr.HGet("matching:run:run-1", "matched"))
	assert.Equal(t, "2", mr.HGet("matching:run:run-1", "unmatched"))
	assert.Equal(t, "false", mr.HGet("matching:run:run-1", "capped"))
	assert.Equal(t, "2024-05-01T10:00:00Z", mr.HGet("matching:run:run-1", "startedAt"))

	assert.JSONEq(t, `{"messageCount":3,"totalWeight":6}`, mr.HGet("matching:run:run-1:templates", "4"))
	assert.JSONEq(t, `{"messageCount":2,"totalWeight":0}`, mr.HGet("matching:run:run-1:templates", "9"))

	latest, err := mr.Get("matching:latest")
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest)
	assert.Equal(t, time.Duration(0), mr.TTL("matching:run:run-1"))
}

func TestRedisPublisher_TTL(t *testing.T) {
	pub, mr := newRedisPublisher(t, time.Hour)

	require.NoError(t, pub.Publish(context.Background(), testSummary()))

	assert.Equal(t, time.Hour, mr.TTL("matching:run:run-1"))
	assert.Equal(t, time.Hour, mr.TTL("matching:run:run-1:templates"))
	assert.Equal(t, time.Hour, mr.TTL("matching:latest"))
}

func TestRedisPublisher_RepublishReplacesTemplates(t *testing.T) {
	pub, mr := newRedisPublisher(t, 0)
	s := testSummary()
	require.NoError(t, pub.Publish(context.Background(), s))

	s.Templates = s.Templates[:1]
	require.NoError(t, pub.Publish(context.Background(), s))

	assert.True(t, mr.Exists("matching:run:run-1:templates"))
	assert.Equal(t, "", mr.HGet("matching:run:run-1:templates", "9"))
}

func TestRedisPublisher_Failure(t *testing.T) {
	pub, mr := newRedisPublisher(t, 0)
	mr.SetError("LOADING redis is loading")

	err := pub.Publish(context.Background(), testSummary())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPublishFailed))
}

func TestRedisPublisher_HSetRejected(t *testing.T) {
	client, mock := redismock.NewClientMock()
	pub := NewRedisPublisher(client, "matching", 0, logger.NewTestLogger(t))
	s := testSummary()

	mock.ExpectTxPipeline()
	mock.ExpectDel(pub.RunKey("run-1"), pub.TemplatesKey("run-1")).SetVal(0)
	mock.ExpectHSet(pub.RunKey("run-1"), summaryFields(s)...).SetErr(errors.New("OOM command not allowed"))

	err := pub.Publish(context.Background(), s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPublishFailed))
}
