package publish

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsclient "matching-client/internal/common/aws"
	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
	"matching-client/internal/models"
)

// maxEmailTemplates caps the template lines listed in a report email.
const maxEmailTemplates = 20

// EmailNotifier mails a plain-text run report through SES.
type EmailNotifier struct {
	client *awsclient.SESClient
	from   string
	to     []string
	log    logger.Logger
}

func NewEmailNotifier(client *awsclient.SESClient, from string, to []string, log logger.Logger) *EmailNotifier {
	return &EmailNotifier{client: client, from: from, to: to, log: log}
}

func (n *EmailNotifier) Notify(ctx context.Context, summary *models.RunSummary) error {
	subject := fmt.Sprintf("[matching-client] run %s %s", summary.RunID, summary.Status)

	id, err := n.client.SendText(ctx, n.from, n.to, subject, FormatReport(summary))
	if err != nil {
		return apperrors.NewPublishFailedError("email", err)
	}

	n.log.Info("run report mailed", map[string]interface{}{"messageId": id, "recipients": len(n.to)})
	return nil
}

// FormatReport renders summary as the plain-text body of a run report.
func FormatReport(s *models.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:       %s\n", s.RunID)
	fmt.Fprintf(&b, "Status:    %s\n", s.Status)
	fmt.Fprintf(&b, "Started:   %s\n", s.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Elapsed:   %ds\n", int64(s.Elapsed().Seconds()))
	fmt.Fprintf(&b, "Batches:   %d", s.BatchesProcessed)
	if s.Capped {
		b.WriteString(" (capped)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Matched:   %d\n", s.MatchedMessages)
	fmt.Fprintf(&b, "Unmatched: %d\n", s.UnmatchedMessages)
	if s.Error != "" {
		fmt.Fprintf(&b, "Error:     %s\n", s.Error)
	}

	if len(s.Templates) > 0 {
		b.WriteString("\ntemplate_id,message_count,total_weight\n")
		for i, row := range s.Templates {
			if i == maxEmailTemplates {
				fmt.Fprintf(&b, "... %d more\n", len(s.Templates)-maxEmailTemplates)
				break
			}
			fmt.Fprintf(&b, "%d,%d,%d\n", row.TemplateID, row.MessageCount, row.TotalWeight)
		}
	}
	return b.String()
}
