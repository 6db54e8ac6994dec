package messaging

import (
	"context"
	"time"

	"example.com/backstage/services/library/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Publisher sends library events to the bus
type Publisher interface {
	Publish(ctx context.Context, event LibraryEvent) error
	Close() error
}

// ServiceBusPublisher publishes to an Azure Service Bus queue
type ServiceBusPublisher struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
	source    string
}

// logPublisher is used for local development when no bus is configured
type logPublisher struct {
	source string
}

// NewPublisher creates a Service Bus publisher, or a publisher that only
// logs events when no connection string is configured.
func NewPublisher(cfg config.AzureConfig, source string) (Publisher, error) {
	if cfg.QueueConnStr == "" {
		log.Warn().Msg("Azure Service Bus connection string not provided, events will only be logged")
		return &logPublisher{source: source}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &ServiceBusPublisher{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
		source:    source,
	}, nil
}

// Publish sends the event to the queue
func (p *ServiceBusPublisher) Publish(ctx context.Context, event LibraryEvent) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}

	contentType := "application/json"
	subject := string(event.Type)
	msg := &azservicebus.Message{
		Body:        data,
		ContentType: &contentType,
		Subject:     &subject,
		ApplicationProperties: map[string]interface{}{
			"source": p.source,
			"time":   event.OccurredAt.Format(time.RFC3339),
		},
	}

	if err := p.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "failed to send %s event to %s", event.Type, p.queueName)
	}
	return nil
}

// Close closes the sender and the client
func (p *ServiceBusPublisher) Close() error {
	ctx := context.Background()
	if p.sender != nil {
		if err := p.sender.Close(ctx); err != nil {
			return err
		}
	}
	if p.client != nil {
		return p.client.Close(ctx)
	}
	return nil
}

func (p *logPublisher) Publish(_ context.Context, event LibraryEvent) error {
	log.Info().
		Str("source", p.source).
		Str("type", string(event.Type)).
		Interface("issue_note_ids", event.IssueNoteIDs).
		Msg("Event not sent, no Service Bus configured")
	return nil
}

func (p *logPublisher) Close() error {
	return nil
}
