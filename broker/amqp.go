package broker

import (
	"context"
	"sync"

	"github.com/zllovesuki/stylo/spec"
	"github.com/zllovesuki/stylo/spec/broker"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var _ broker.Producer = &AMQPProducer{}

const (
	billingEventsExchange string = "billing_events"
	contentType                  = "application/x-protobuf"
)

// AMQPProducer publishes billing events to a topic exchange on RabbitMQ
type AMQPProducer struct {
	logger     *zap.Logger
	connection *amqp.Connection
	channel    *amqp.Channel
	mu         sync.Mutex
}

// NewAMQPProducer returns an event Producer over RabbitMQ
func NewAMQPProducer(logger *zap.Logger, amqpURI string) (*AMQPProducer, error) {
	if logger == nil {
		return nil, extErrors.New("nil Logger is invalid")
	}
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		amqpConn.Close()
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	producer := &AMQPProducer{
		logger:     logger,
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := producer.setupEventsExchange(); err != nil {
		producer.Close()
		return nil, extErrors.Wrap(err, "Cannot declare exchange for billing events")
	}

	return producer, nil
}

func (a *AMQPProducer) setupEventsExchange() error {
	return a.channel.ExchangeDeclare(
		billingEventsExchange, // name
		"topic",               // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPProducer) Close() {
	a.channel.Close()
	a.connection.Close()
}

func (a *AMQPProducer) publishViaRoutingKey(exchange, routingKey string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channel.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  contentType,
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Publish sends the event with its type as the routing key
func (a *AMQPProducer) Publish(ctx context.Context, event spec.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	protoBytes, err := Encode(event)
	if err != nil {
		return err
	}
	if err := a.publishViaRoutingKey(billingEventsExchange, string(event.Type), protoBytes); err != nil {
		return extErrors.Wrap(err, "Cannot publish billing event")
	}
	a.logger.Debug("Billing event published",
		zap.String("Type", string(event.Type)),
		zap.String("BusinessID", event.BusinessID),
	)
	return nil
}
