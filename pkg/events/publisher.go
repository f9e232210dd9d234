package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	TopicBookReady  = "book.ready"
	DefaultExchange = "storybook.events"
)

// BookReady announces that a generated book has been archived.
type BookReady struct {
	JobID      string    `json:"jobId"`
	BookID     int64     `json:"bookId"`
	Owner      string    `json:"owner,omitempty"`
	Title      string    `json:"title,omitempty"`
	PDFKey     string    `json:"pdfKey"`
	CoverKey   string    `json:"coverKey,omitempty"`
	PDFURL     string    `json:"pdfUrl,omitempty"`
	Pages      int       `json:"pages"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Publisher delivers domain events.
type Publisher interface {
	PublishBookReady(ctx context.Context, evt BookReady) error
	Close() error
}

// AMQPPublisher publishes JSON events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher dials url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url is required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{exchange: exchange, conn: conn, ch: ch}, nil
}

func (p *AMQPPublisher) PublishBookReady(ctx context.Context, evt BookReady) error {
	msg, err := bookReadyMessage(evt)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, TopicBookReady, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", TopicBookReady, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	chErr := p.ch.Close()
	connErr := p.conn.Close()
	return errors.Join(chErr, connErr)
}

func bookReadyMessage(evt BookReady) (amqp.Publishing, error) {
	if evt.BookID <= 0 {
		return amqp.Publishing{}, errors.New("book ready event requires bookId")
	}
	if evt.FinishedAt.IsZero() {
		evt.FinishedAt = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%d", TopicBookReady, evt.BookID),
		Type:         TopicBookReady,
		Timestamp:    evt.FinishedAt,
		Body:         body,
	}, nil
}

// MemoryPublisher records events in process. Used when no broker is configured.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []BookReady
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) PublishBookReady(ctx context.Context, evt BookReady) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := bookReadyMessage(evt); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []BookReady {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]BookReady, len(p.events))
	copy(out, p.events)
	return out
}

func (p *MemoryPublisher) Close() error { return nil }
