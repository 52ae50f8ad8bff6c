package mq

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	memoryBuffer = 64

	// memoryMaxAttempts matches the RabbitMQ backend: one redelivery, then
	// the message is dropped.
	memoryMaxAttempts = 2
	attemptsAttribute = "x-delivery-attempt"
)

// MemoryClient is an in-process broker. Messages published before a
// subscriber attaches are buffered per channel.
type MemoryClient struct {
	mu       sync.Mutex
	queues   map[string]chan Message
	seq      int
	closed   bool
	closedCh chan struct{}

	// RetryDelay is how long a failed message waits before redelivery.
	RetryDelay time.Duration
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		queues:     make(map[string]chan Message),
		closedCh:   make(chan struct{}),
		RetryDelay: time.Second,
	}
}

func (m *MemoryClient) queue(channel string) (chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("memory broker closed")
	}
	q, ok := m.queues[channel]
	if !ok {
		q = make(chan Message, memoryBuffer)
		m.queues[channel] = q
	}
	return q, nil
}

func (m *MemoryClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("memory channel is required")
	}
	q, err := m.queue(channel)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.seq++
	id := strconv.Itoa(m.seq)
	m.mu.Unlock()

	select {
	case q <- Message{ID: id, Data: data, Attributes: attrs}:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Subscribe delivers messages until ctx is done. A failed message is
// requeued once after RetryDelay and dropped if it fails again.
func (m *MemoryClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("memory channel is required")
	}
	q, err := m.queue(channel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closedCh:
			return errors.New("memory broker closed")
		case msg := <-q:
			if err := handler(ctx, msg); err != nil {
				m.retry(ctx, q, msg)
			}
		}
	}
}

func (m *MemoryClient) retry(ctx context.Context, q chan Message, msg Message) {
	attempt := deliveryAttempt(msg)
	if attempt >= memoryMaxAttempts {
		return
	}

	attrs := make(map[string]string, len(msg.Attributes)+1)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	attrs[attemptsAttribute] = strconv.Itoa(attempt + 1)
	msg.Attributes = attrs

	go func() {
		timer := time.NewTimer(m.RetryDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		case <-m.closedCh:
			return
		}
		select {
		case q <- msg:
		case <-ctx.Done():
		case <-m.closedCh:
		}
	}()
}

// deliveryAttempt returns the 1-based attempt number of msg.
func deliveryAttempt(msg Message) int {
	n, err := strconv.Atoi(msg.Attributes[attemptsAttribute])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (m *MemoryClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.closedCh)
	}
	return nil
}
