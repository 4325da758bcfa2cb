package transport

import (
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/nazaninmagharei/bismark-passive/internal/model"
)

// Publisher publishes captured packets to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *log.Logger
}

// NewPublisher connects to url and returns a Publisher for subject.
func NewPublisher(url, subject string, logger *log.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("transport: connect to nats at %q: %w", url, err)
	}
	if logger != nil {
		logger.Printf("connected to nats at %s", url)
	}
	return &Publisher{nc: nc, subject: subject, logger: logger}, nil
}

// Publish encodes info and publishes it to the configured subject.
func (p *Publisher) Publish(info *model.PacketInfo) error {
	data, err := Marshal(info)
	if err != nil {
		return fmt.Errorf("transport: marshal packet: %w", err)
	}
	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil && p.logger != nil {
		p.logger.Printf("error draining nats connection: %v", err)
	}
}

// PacketHandler processes one decoded packet received over NATS.
type PacketHandler func(info *model.PacketInfo)

// Subscriber subscribes to a NATS subject and decodes each message back
// into a model.PacketInfo.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	logger  *log.Logger
}

// NewSubscriber connects to url for later subscription on subject.
func NewSubscriber(url, subject string, logger *log.Logger) (*Subscriber, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("transport: connect to nats at %q: %w", url, err)
	}
	if logger != nil {
		logger.Printf("connected to nats at %s", url)
	}
	return &Subscriber{nc: nc, subject: subject, logger: logger}, nil
}

// Start subscribes and invokes handler for every successfully decoded
// packet; decode failures are logged and skipped.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		info, err := Unmarshal(msg.Data)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("dropping malformed message: %v", err)
			}
			return
		}
		handler(info)
	})
	if err != nil {
		return fmt.Errorf("transport: subscribe to %q: %w", s.subject, err)
	}
	s.sub = sub
	if s.logger != nil {
		s.logger.Printf("subscribed to %q", s.subject)
	}
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
