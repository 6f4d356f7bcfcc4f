package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/events"
)

type fakeAPI struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeAPI) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{MessageId: aws.String("id-1")}, nil
}

func TestPublish_SetsAttributes(t *testing.T) {
	api := &fakeAPI{}
	p := NewPublisher(api, "arn:aws:sns:eu-south-1:000000000000:pn-delivery", zap.NewNop())

	ev := events.NewNotificationEvent("202305-abc", "paId-1", time.Now())
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in := api.inputs[0]
	for name, want := range map[string]string{"eventType": "NEW_NOTIFICATION", "paId": "paId-1", "iun": "202305-abc"} {
		if got := aws.ToString(in.MessageAttributes[name].StringValue); got != want {
			t.Errorf("attribute %s: got %q, want %q", name, got, want)
		}
	}

	var decoded events.Event
	if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &decoded); err != nil {
		t.Fatalf("message is not an event: %v", err)
	}
	if decoded.Publisher != "DELIVERY" {
		t.Errorf("unexpected publisher %s", decoded.Publisher)
	}
}

func TestPublish_Error(t *testing.T) {
	api := &fakeAPI{err: errors.New("topic not found")}
	p := NewPublisher(api, "arn", zap.NewNop())

	if err := p.Publish(context.Background(), events.Event{}); !errors.Is(err, api.err) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
