// Package broker delivers billing events to the messaging collaborator.
package broker

import (
	"context"
	"time"

	"github.com/zllovesuki/stylo/spec"
	"github.com/zllovesuki/stylo/spec/broker"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode serializes the event as a protobuf Struct
func Encode(event spec.Event) ([]byte, error) {
	data := make(map[string]interface{}, len(event.Data))
	for k, v := range event.Data {
		data[k] = v
	}
	s, err := structpb.NewStruct(map[string]interface{}{
		"type":        string(event.Type),
		"business_id": event.BusinessID,
		"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339),
		"data":        data,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot convert event into protobuf struct")
	}
	protoBytes, err := proto.Marshal(s)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot encode message into bytes")
	}
	return protoBytes, nil
}

// Decode is the inverse of Encode
func Decode(body []byte) (spec.Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(body, &s); err != nil {
		return spec.Event{}, extErrors.Wrap(err, "Cannot decode message from bytes")
	}
	fields := s.GetFields()
	event := spec.Event{
		Type:       spec.EventType(fields["type"].GetStringValue()),
		BusinessID: fields["business_id"].GetStringValue(),
		Data:       spec.Parameters{},
	}
	if at, err := time.Parse(time.RFC3339, fields["occurred_at"].GetStringValue()); err == nil {
		event.OccurredAt = at
	}
	for k, v := range fields["data"].GetStructValue().GetFields() {
		event.Data[k] = v.GetStringValue()
	}
	return event, nil
}

var _ broker.Producer = &LogProducer{}

// LogProducer writes events to the logger instead of a message broker
type LogProducer struct {
	logger *zap.Logger
}

func NewLogProducer(logger *zap.Logger) *LogProducer {
	return &LogProducer{
		logger: logger,
	}
}

func (l *LogProducer) Close() {}

func (l *LogProducer) Publish(ctx context.Context, event spec.Event) error {
	fields := make([]zap.Field, 0, len(event.Data)+3)
	fields = append(fields,
		zap.String("Type", string(event.Type)),
		zap.String("BusinessID", event.BusinessID),
		zap.Time("OccurredAt", event.OccurredAt),
	)
	for k, v := range event.Data {
		fields = append(fields, zap.String(k, v))
	}
	l.logger.Info("Billing event", fields...)
	return nil
}
