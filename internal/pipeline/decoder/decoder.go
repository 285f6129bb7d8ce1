// Package decoder turns raw rows into messages using a configurable field map.
package decoder

import (
	"fmt"

	"matching-client/internal/common/config"
	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/models"
)

// FieldMap holds the zero-based column of each message field.
type FieldMap struct {
	ReceivedAt       int
	Sender           int
	RecipientAddress int
	Body             int
}

// DefaultFieldMap is the column layout of the message log.
func DefaultFieldMap() FieldMap {
	return FieldMap{ReceivedAt: 1, Sender: 2, RecipientAddress: 3, Body: 8}
}

// FromConfig builds a FieldMap from the fields section of the run config.
func FromConfig(cfg config.FieldsConfig) FieldMap {
	return FieldMap{
		ReceivedAt:       cfg.ReceivedAt,
		Sender:           cfg.Sender,
		RecipientAddress: cfg.RecipientAddress,
		Body:             cfg.Body,
	}
}

// Validate requires non-negative, pairwise distinct indices.
func (f FieldMap) Validate() error {
	named := []struct {
		key   string
		index int
	}{
		{"fields.received_at", f.ReceivedAt},
		{"fields.sender", f.Sender},
		{"fields.recipient_address", f.RecipientAddress},
		{"fields.body", f.Body},
	}

	seen := make(map[int]string, len(named))
	for _, n := range named {
		if n.index < 0 {
			return apperrors.NewConfigWrongTypeError(n.key, "non-negative column index", nil)
		}
		if other, dup := seen[n.index]; dup {
			return apperrors.NewConfigWrongTypeError(n.key, "distinct column index",
				fmt.Errorf("column %d already used by %s", n.index, other))
		}
		seen[n.index] = n.key
	}
	return nil
}

// Width is the minimum number of fields a row needs.
func (f FieldMap) Width() int {
	return max(f.ReceivedAt, f.Sender, f.RecipientAddress, f.Body) + 1
}

// Decoder is safe for concurrent use; it holds no state beyond the field map.
type Decoder struct {
	fields FieldMap
}

// New validates fields and returns a Decoder.
func New(fields FieldMap) (*Decoder, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{fields: fields}, nil
}

// Decode builds an unclassified Message from row. A row too short for any
// mapped field fails with MissingField naming the lowest absent index.
// Field contents are not validated.
func (d *Decoder) Decode(row models.RawRow) (*models.Message, error) {
	if len(row) < d.fields.Width() {
		return nil, apperrors.NewMissingFieldError(d.lowestAbsent(len(row)), len(row))
	}
	return models.NewMessage(
		row[d.fields.ReceivedAt],
		row[d.fields.Sender],
		row[d.fields.RecipientAddress],
		row[d.fields.Body],
	), nil
}

func (d *Decoder) lowestAbsent(n int) int {
	lowest := -1
	for _, idx := range []int{d.fields.ReceivedAt, d.fields.Sender, d.fields.RecipientAddress, d.fields.Body} {
		if idx >= n && (lowest < 0 || idx < lowest) {
			lowest = idx
		}
	}
	return lowest
}
