package publish

import (
	"context"
	"encoding/json"
	"fmt"

	awsclient "matching-client/internal/common/aws"
	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
	"matching-client/internal/models"
)

// SNSNotifier posts every finished run's summary to a topic.
type SNSNotifier struct {
	client   *awsclient.SNSClient
	topicARN string
	log      logger.Logger
}

func NewSNSNotifier(client *awsclient.SNSClient, topicARN string, log logger.Logger) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN, log: log}
}

func (n *SNSNotifier) Notify(ctx context.Context, summary *models.RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return apperrors.NewPublishFailedError("sns", err)
	}

	subject := fmt.Sprintf("matching run %s", summary.Status)
	attrs := map[string]string{
		"runId":  summary.RunID,
		"status": string(summary.Status),
	}
	if summary.ErrorCode != "" {
		attrs["errorCode"] = summary.ErrorCode
	}

	id, err := n.client.PublishMessage(ctx, n.topicARN, subject, string(body), attrs)
	if err != nil {
		return apperrors.NewPublishFailedError("sns", err)
	}

	n.log.Info("run notification sent", map[string]interface{}{"messageId": id})
	return nil
}
