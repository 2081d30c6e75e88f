package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type discriminates relay control messages from data messages.
type Type string

const (
	// TypeSubscribe registers the sender for Topic and for every topic listed
	// in Payload as a JSON string array.
	TypeSubscribe Type = "sub"
	// TypePublish delivers Payload to the subscribers of Topic, or buffers it.
	TypePublish Type = "pub"
	// TypeUnsubscribe removes the sender from Topic and the Payload topics.
	TypeUnsubscribe Type = "unsub"
	// TypeError is sent by the relay in reply to a message it rejected.
	TypeError Type = "err"
)

var (
	// ErrFormat is returned for messages with an unknown type or no topic.
	ErrFormat = errors.New("relay: invalid message")
)

// Message is the envelope exchanged between peers and the relay. The relay
// routes on Topic only and never inspects Payload of published messages.
type Message struct {
	Topic   string `json:"topic"`
	Type    Type   `json:"type"`
	Payload string `json:"payload"`
}

// DecodeMessage parses and validates an inbound envelope.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// Validate checks the discriminator and the topic.
func (m Message) Validate() error {
	switch m.Type {
	case TypePublish:
		if m.Topic == "" {
			return fmt.Errorf("%w: publish without topic", ErrFormat)
		}
	case TypeSubscribe, TypeUnsubscribe:
		topics, err := m.Topics()
		if err != nil {
			return err
		}
		if len(topics) == 0 {
			return fmt.Errorf("%w: %s without topic", ErrFormat, m.Type)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrFormat, m.Type)
	}
	return nil
}

// Topics returns the topics addressed by a sub or unsub message: Topic
// followed by any topics encoded in Payload.
func (m Message) Topics() ([]string, error) {
	var topics []string
	if m.Topic != "" {
		topics = append(topics, m.Topic)
	}
	if m.Payload == "" {
		return topics, nil
	}
	var extra []string
	if err := json.Unmarshal([]byte(m.Payload), &extra); err != nil {
		return nil, fmt.Errorf("%w: %s payload must be a JSON array of topics", ErrFormat, m.Type)
	}
	for _, t := range extra {
		if t != "" {
			topics = append(topics, t)
		}
	}
	return topics, nil
}

// SubscribeMessage builds a sub message for the given topics.
func SubscribeMessage(topic string, more ...string) Message {
	m := Message{Topic: topic, Type: TypeSubscribe}
	if len(more) > 0 {
		b, _ := json.Marshal(more)
		m.Payload = string(b)
	}
	return m
}

// PublishMessage builds a pub message.
func PublishMessage(topic, payload string) Message {
	return Message{Topic: topic, Type: TypePublish, Payload: payload}
}

func errorMessage(topic string, err error) Message {
	return Message{Topic: topic, Type: TypeError, Payload: err.Error()}
}
