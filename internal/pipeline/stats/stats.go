// Package stats aggregates matched messages per template and writes the stats report.
package stats

import (
	"sort"
	"sync"

	"matching-client/internal/models"
)

// Table is the aggregator over a run's RunStats. All methods are safe for
// concurrent use.
type Table struct {
	mu    sync.Mutex
	stats *models.RunStats
}

// NewTable wraps stats, or a fresh RunStats when stats is nil.
func NewTable(stats *models.RunStats) *Table {
	if stats == nil {
		stats = models.NewRunStats()
	}
	return &Table{stats: stats}
}

// Record counts one matched message against templateID.
func (t *Table) Record(templateID, weight int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts, ok := t.stats.Templates[templateID]
	if !ok {
		ts = &models.TemplateStat{}
		t.stats.Templates[templateID] = ts
	}
	ts.MessageCount++
	ts.TotalWeight += weight
	t.stats.TotalMatchedMessages++
}

// RecordMessage records a matched message; a missing weight counts as 0.
func (t *Table) RecordMessage(msg *models.Message) {
	var w int64
	if msg.Weight != nil {
		w = *msg.Weight
	}
	t.Record(*msg.TemplateID, w)
}

// AddUnmatched bumps the unmatched total; the residual sink calls it per row.
func (t *Table) AddUnmatched(n int64) {
	t.mu.Lock()
	t.stats.TotalUnmatchedMessages += n
	t.mu.Unlock()
}

// Emit returns one row per template, ordered by template id ascending.
func (t *Table) Emit() []models.StatRow {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := make([]models.StatRow, 0, len(t.stats.Templates))
	for id, ts := range t.stats.Templates {
		rows = append(rows, models.StatRow{
			TemplateID:   id,
			MessageCount: ts.MessageCount,
			TotalWeight:  ts.TotalWeight,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TemplateID < rows[j].TemplateID })
	return rows
}

// Snapshot returns a deep copy of the current RunStats.
func (t *Table) Snapshot() *models.RunStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := &models.RunStats{
		Templates:              make(map[int64]*models.TemplateStat, len(t.stats.Templates)),
		TotalMatchedMessages:   t.stats.TotalMatchedMessages,
		TotalUnmatchedMessages: t.stats.TotalUnmatchedMessages,
	}
	for id, ts := range t.stats.Templates {
		c := *ts
		out.Templates[id] = &c
	}
	return out
}
