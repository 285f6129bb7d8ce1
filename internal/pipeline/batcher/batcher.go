// Package batcher groups decoded messages into fixed-size, sequence-numbered chunks.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"io"

	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/models"
)

// RowSource yields raw rows until io.EOF.
type RowSource interface {
	Read() (models.RawRow, error)
}

// RowDecoder turns a raw row into a Message.
type RowDecoder interface {
	Decode(row models.RawRow) (*models.Message, error)
}

// Chunk is a contiguous run of at most batchSize messages. Seq starts at 0.
type Chunk struct {
	Seq      int64
	Messages []*models.Message
}

// Batcher is a single-pass, lazy chunker. It is not safe for concurrent use.
type Batcher struct {
	src        RowSource
	dec        RowDecoder
	batchSize  int
	maxBatches int

	seq    int64
	err    error
	capped bool
}

// New returns a Batcher. maxBatches < 0 means unlimited; 0 yields no chunks.
func New(src RowSource, dec RowDecoder, batchSize, maxBatches int) (*Batcher, error) {
	if batchSize <= 0 {
		return nil, apperrors.NewConfigWrongTypeError("batchsize", "positive integer", nil)
	}
	return &Batcher{
		src:        src,
		dec:        dec,
		batchSize:  batchSize,
		maxBatches: maxBatches,
	}, nil
}

// Next returns the next chunk, io.EOF once the source is exhausted or the cap
// is reached, or the decode error that ended the pass. A chunk containing an
// undecodable row is never delivered.
func (b *Batcher) Next(ctx context.Context) (*Chunk, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if b.maxBatches >= 0 && b.seq >= int64(b.maxBatches) {
		b.capped = b.hasMore()
		b.err = io.EOF
		return nil, io.EOF
	}

	msgs := make([]*models.Message, 0, b.batchSize)
	for len(msgs) < b.batchSize {
		row, err := b.src.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			b.err = fmt.Errorf("chunk %d: %w", b.seq, err)
			return nil, b.err
		}
		msg, err := b.dec.Decode(row)
		if err != nil {
			b.err = fmt.Errorf("chunk %d, position %d: %w", b.seq, len(msgs), err)
			return nil, b.err
		}
		msgs = append(msgs, msg)
	}

	if len(msgs) == 0 {
		b.err = io.EOF
		return nil, io.EOF
	}

	chunk := &Chunk{Seq: b.seq, Messages: msgs}
	b.seq++
	return chunk, nil
}

// hasMore peeks one row to tell a cap from a source that ended exactly on it.
func (b *Batcher) hasMore() bool {
	_, err := b.src.Read()
	return !errors.Is(err, io.EOF)
}

// Capped reports whether the pass stopped at maxBatches with input remaining.
func (b *Batcher) Capped() bool {
	return b.capped
}

// Emitted is the number of chunks delivered.
func (b *Batcher) Emitted() int64 {
	return b.seq
}
