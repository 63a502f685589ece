package core

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// mockSQSSender records all SendMessage calls for verification.
type mockSQSSender struct {
	calls     []*sqs.SendMessageInput
	returnErr error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSPublisher_Publish(t *testing.T) {
	sender := &mockSQSSender{}
	pub := NewSQSPublisher(sender, "https://sqs.eu-south-1.amazonaws.com/123/sphyra-events", slog.Default())

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	err := pub.Publish(context.Background(), Event{
		Type:          EventAppointmentConfirmed,
		AppointmentID: "appt-1",
		OccurredAt:    at,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(sender.calls))
	}
	in := sender.calls[0]
	if *in.QueueUrl != "https://sqs.eu-south-1.amazonaws.com/123/sphyra-events" {
		t.Errorf("unexpected queue url %s", *in.QueueUrl)
	}
	if attr := in.MessageAttributes["event_type"]; *attr.StringValue != EventAppointmentConfirmed {
		t.Errorf("unexpected event_type attribute %v", *attr.StringValue)
	}

	var sent Event
	if err := json.Unmarshal([]byte(*in.MessageBody), &sent); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if sent.AppointmentID != "appt-1" || !sent.OccurredAt.Equal(at) {
		t.Errorf("unexpected body: %+v", sent)
	}
}

func TestSQSPublisher_PublishError(t *testing.T) {
	sender := &mockSQSSender{returnErr: errors.New("access denied")}
	pub := NewSQSPublisher(sender, "q", slog.Default())

	err := pub.Publish(context.Background(), Event{Type: EventReminderBatchCompleted})
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
