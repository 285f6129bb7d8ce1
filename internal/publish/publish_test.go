package publish

import (
	"time"

	"matching-client/internal/models"
)

func testSummary() *models.RunSummary {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &models.RunSummary{
		RunID:             "run-1",
		Status:            models.RunStatusDone,
		StartedAt:         started,
		FinishedAt:        started.Add(90 * time.Second),
		BatchesProcessed:  3,
		MatchedMessages:   5,
		UnmatchedMessages: 2,
		Templates: []models.StatRow{
			{TemplateID: 4, MessageCount: 3, TotalWeight: 6},
			{TemplateID: 9, MessageCount: 2, TotalWeight: 0},
		},
	}
}
