package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"sphyra/internal/types"
)

// Metric names and dimensions.
const (
	DefaultMetricNamespace = "Sphyra/Reminders"

	MetricDeliveryAttempt = "ReminderDeliveryAttempt"
	MetricDeliveryLatency = "ReminderDeliveryLatency"
	MetricBatchTotal      = "ReminderBatchTotal"
	MetricBatchSent       = "ReminderBatchSent"
	MetricBatchFailed     = "ReminderBatchFailed"

	DimChannel = "Channel"
	DimResult  = "Result"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics implements Metrics by emitting to AWS CloudWatch.
// Emission failures are logged and never propagated.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing under namespace
// (DefaultMetricNamespace when empty).
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = DefaultMetricNamespace
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordDelivery emits ReminderDeliveryAttempt with Channel and Result dimensions.
func (m *CloudWatchMetrics) RecordDelivery(ctx context.Context, channel types.ReminderType, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimChannel), Value: aws.String(string(channel))},
			{Name: aws.String(DimResult), Value: aws.String(string(result))},
		},
	})
}

// RecordLatency emits the send duration in milliseconds.
func (m *CloudWatchMetrics) RecordLatency(ctx context.Context, channel types.ReminderType, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricDeliveryLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(DimChannel), Value: aws.String(string(channel))},
		},
	})
}

// RecordBatch emits the totals of one due-reminder run in a single call.
func (m *CloudWatchMetrics) RecordBatch(ctx context.Context, total, sent, failed int) {
	m.put(ctx,
		cwtypes.MetricDatum{MetricName: aws.String(MetricBatchTotal), Value: aws.Float64(float64(total)), Unit: cwtypes.StandardUnitCount},
		cwtypes.MetricDatum{MetricName: aws.String(MetricBatchSent), Value: aws.Float64(float64(sent)), Unit: cwtypes.StandardUnitCount},
		cwtypes.MetricDatum{MetricName: aws.String(MetricBatchFailed), Value: aws.Float64(float64(failed)), Unit: cwtypes.StandardUnitCount},
	)
}

func (m *CloudWatchMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to put metric data",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}
