package buildamqp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/k11v/pages/internal/build"
)

const contentType = "application/json"

// Publisher is satisfied by *amqputil.Client.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Queue() string
}

var _ build.Queue = (*Broker)(nil)

type Broker struct {
	publisher Publisher // required
}

func NewBroker(publisher Publisher) *Broker {
	return &Broker{publisher: publisher}
}

// SendTaskMessage implements build.Queue.
func (broker *Broker) SendTaskMessage(ctx context.Context, t *build.QueuedTask, priority int) error {
	msg, err := newPublishing(t, priority)
	if err != nil {
		return fmt.Errorf("send task message: %w", err)
	}

	err = broker.publisher.Publish(ctx,
		"",                       // exchange
		broker.publisher.Queue(), // routing key
		false,                    // mandatory
		false,                    // immediate
		msg,                      // message
	)
	if err != nil {
		return fmt.Errorf("send task message: %w", err)
	}

	return nil
}

// Message is the body of a queued task message.
type Message struct {
	Task     MessageTask  `json:"task"`
	Build    MessageBuild `json:"build"`
	Site     MessageSite  `json:"site"`
	Priority int          `json:"priority"`
}

type MessageTask struct {
	ID     int64  `json:"id"`
	TypeID int64  `json:"type_id"`
	Status string `json:"status"`
}

type MessageBuild struct {
	ID     int64  `json:"id"`
	Branch string `json:"branch"`
	State  string `json:"state"`
}

type MessageSite struct {
	ID            int64  `json:"id"`
	Owner         string `json:"owner"`
	Repository    string `json:"repository"`
	DefaultBranch string `json:"default_branch"`
}

func newMessage(t *build.QueuedTask, priority int) *Message {
	return &Message{
		Task: MessageTask{
			ID:     t.Task.ID,
			TypeID: t.Task.TypeID,
			Status: string(build.TaskStatusQueued),
		},
		Build: MessageBuild{
			ID:     t.Build.ID,
			Branch: t.Build.Branch,
			State:  string(t.Build.State),
		},
		Site: MessageSite{
			ID:            t.Site.ID,
			Owner:         t.Site.Owner,
			Repository:    t.Site.Repository,
			DefaultBranch: t.Site.DefaultBranch,
		},
		Priority: priority,
	}
}

func newPublishing(t *build.QueuedTask, priority int) (amqp091.Publishing, error) {
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(newMessage(t, priority)); err != nil {
		return amqp091.Publishing{}, err
	}
	return amqp091.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Priority:     clampPriority(priority),
		Body:         body.Bytes(),
	}, nil
}

// AMQP priorities are a single octet.
func clampPriority(priority int) uint8 {
	return uint8(min(max(priority, 0), 255))
}

// DecodeMessage decodes a task message body.
func DecodeMessage(body []byte) (*Message, error) {
	var m Message
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode message: multiple top-level values")
	}
	return &m, nil
}
