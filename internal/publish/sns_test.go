package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awsclient "matching-client/internal/common/aws"
	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/common/logger"
	"matching-client/internal/models"
)

// ==========================
// SNS notifier
// ==========================

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func TestSNSNotifier_Notify(t *testing.T) {
	fake := &fakeSNS{}
	n := NewSNSNotifier(awsclient.NewSNSClientWith(fake), "arn:aws:sns:eu-west-1:1:runs", logger.NewTestLogger(t))

	s := testSummary()
	s.Status = models.RunStatusFailed
	s.ErrorCode = "CLASSIFY_BAD_STATUS"
	require.NoError(t, n.Notify(context.Background(), s))

	assert.Equal(t, "arn:aws:sns:eu-west-1:1:runs", aws.ToString(fake.input.TopicArn))
	assert.Equal(t, "matching run failed", aws.ToString(fake.input.Subject))
	assert.Equal(t, "run-1", aws.ToString(fake.input.MessageAttributes["runId"].StringValue))
	assert.Equal(t, "CLASSIFY_BAD_STATUS", aws.ToString(fake.input.MessageAttributes["errorCode"].StringValue))

	var decoded models.RunSummary
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(fake.input.Message)), &decoded))
	assert.Equal(t, int64(2), decoded.UnmatchedMessages)
	assert.Len(t, decoded.Templates, 2)
}

func TestSNSNotifier_Failure(t *testing.T) {
	n := NewSNSNotifier(awsclient.NewSNSClientWith(&fakeSNS{err: errors.New("access denied")}), "arn", logger.NewTestLogger(t))

	err := n.Notify(context.Background(), testSummary())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPublishFailed))
}
