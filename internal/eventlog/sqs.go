package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/programme-lv/ancm/api"
)

// SQSSender is the part of the SQS client the writer uses
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSWriter sends each record as a JSON message to a queue
type SQSWriter struct {
	client   SQSSender
	queueUrl string
}

func NewSQSWriter(client SQSSender, queueUrl string) *SQSWriter {
	return &SQSWriter{client: client, queueUrl: queueUrl}
}

// DialSQS loads the default AWS configuration for region
func DialSQS(ctx context.Context, region string, queueUrl string) (*SQSWriter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewSQSWriter(sqs.NewFromConfig(cfg), queueUrl), nil
}

func (w *SQSWriter) Append(ctx context.Context, rec api.LogRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = w.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(w.queueUrl),
		MessageBody: aws.String(string(b)),
	})
	if err != nil {
		return fmt.Errorf("failed to send record to SQS: %w", err)
	}
	return nil
}
