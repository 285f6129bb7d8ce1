package residual

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/models"
)

type countingTable struct{ n int64 }

func (c *countingTable) AddUnmatched(n int64) { c.n += n }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestSink_FullLayoutPreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	counter := &countingTable{}
	sink := NewSink(&buf, LayoutFull, counter)

	require.NoError(t, sink.Write(models.NewMessage("2020-01-01", "BANK", "+100", "first")))
	require.NoError(t, sink.Write(models.NewMessage("2020-01-02", "SHOP", "+200", "second, with comma")))
	require.NoError(t, sink.Close())

	assert.Equal(t, "2020-01-01,+100,first\n2020-01-02,+200,\"second, with comma\"\n", buf.String())
	assert.Equal(t, int64(2), counter.n)
	assert.Equal(t, int64(2), sink.Written())
}

func TestSink_MinimalLayout(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf, LayoutMinimal, nil)

	require.NoError(t, sink.Write(models.NewMessage("t", "BANK", "+100", "hi")))
	require.NoError(t, sink.Flush())

	assert.Equal(t, "BANK,hi\n", buf.String())
}

func TestSink_WriteFailureSurfaces(t *testing.T) {
	sink := NewSink(failingWriter{}, LayoutFull, nil)
	_ = sink.Write(models.NewMessage("t", "s", "r", "b"))

	err := sink.Flush()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrSinkWriteFailed))
}

func TestSink_CountsRowsOnlyAfterFlush(t *testing.T) {
	var buf bytes.Buffer
	counter := &countingTable{}
	sink := NewSink(&buf, LayoutFull, counter)

	require.NoError(t, sink.Write(models.NewMessage("t", "s", "r", "one")))
	require.NoError(t, sink.Write(models.NewMessage("t", "s", "r", "two")))
	assert.Zero(t, counter.n)
	assert.Zero(t, sink.Written())

	require.NoError(t, sink.Flush())
	assert.Equal(t, int64(2), counter.n)

	require.NoError(t, sink.Flush())
	assert.Equal(t, int64(2), counter.n)
	assert.Equal(t, int64(2), sink.Written())
}

func TestSink_FailedFlushIsNotCounted(t *testing.T) {
	counter := &countingTable{}
	sink := NewSink(failingWriter{}, LayoutFull, counter)

	require.NoError(t, sink.Write(models.NewMessage("t", "s", "r", "lost")))
	require.Error(t, sink.Flush())
	require.Error(t, sink.Close())

	assert.Zero(t, counter.n)
	assert.Zero(t, sink.Written())
}

func TestSink_CloseIsIdempotentAndBlocksWrites(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSink(&buf, LayoutFull, nil)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	err := sink.Write(models.NewMessage("t", "s", "r", "b"))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidState))
}

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "residual.csv")
	sink, err := Create(path, LayoutFull, nil)
	require.NoError(t, err)

	require.NoError(t, sink.Write(models.NewMessage("t", "s", "r", "b")))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "t,r,b\n", string(data))
}
