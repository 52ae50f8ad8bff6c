package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/comunidade-maf/apiserver/internal/metrics"
	"github.com/comunidade-maf/apiserver/internal/mq"
	"go.uber.org/zap"
)

// Channel is the broker channel carrying access decision notifications.
const Channel = "access-notifications"

type Kind string

const (
	KindApproved Kind = "approved"
	KindRejected Kind = "rejected"
)

func (k Kind) Valid() bool {
	return k == KindApproved || k == KindRejected
}

// Notification tells a member about a review decision.
type Notification struct {
	Kind   Kind   `json:"kind"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

func (n Notification) validate() error {
	if !n.Kind.Valid() {
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	if strings.TrimSpace(n.Email) == "" {
		return errors.New("notification email is required")
	}
	return nil
}

// Notifier delivers access decision notifications.
type Notifier interface {
	NotifyAccessDecision(ctx context.Context, n Notification) error
}

// Publisher is the part of mq.MQ used to enqueue notifications.
type Publisher interface {
	PublishJSON(ctx context.Context, channel string, v any, attrs map[string]string) (string, error)
}

// QueueNotifier enqueues notifications for the worker to deliver.
type QueueNotifier struct {
	publisher Publisher
}

func NewQueueNotifier(publisher Publisher) *QueueNotifier {
	return &QueueNotifier{publisher: publisher}
}

func (q *QueueNotifier) NotifyAccessDecision(ctx context.Context, n Notification) error {
	if err := n.validate(); err != nil {
		return err
	}
	if _, err := q.publisher.PublishJSON(ctx, Channel, n, map[string]string{"kind": string(n.Kind)}); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// DirectNotifier renders and sends notifications inline.
type DirectNotifier struct {
	mailer Mailer
	appURL string
}

func NewDirectNotifier(mailer Mailer, appURL string) *DirectNotifier {
	return &DirectNotifier{mailer: mailer, appURL: appURL}
}

func (d *DirectNotifier) NotifyAccessDecision(ctx context.Context, n Notification) error {
	if err := n.validate(); err != nil {
		return err
	}
	msg, err := Render(n, d.appURL)
	if err != nil {
		return err
	}
	return d.mailer.Send(ctx, msg)
}

// Subscriber is the part of mq.MQ the worker consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Worker consumes queued notifications and delivers them through a
// DirectNotifier. A delivery error nacks the message for redelivery;
// undecodable messages are dropped.
type Worker struct {
	subscriber Subscriber
	direct     *DirectNotifier
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewWorker(subscriber Subscriber, direct *DirectNotifier, m *metrics.Metrics, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{subscriber: subscriber, direct: direct, metrics: m, logger: logger}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("notification worker started", zap.String("channel", Channel))
	return w.subscriber.Subscribe(ctx, Channel, w.Handle)
}

func (w *Worker) Handle(ctx context.Context, msg mq.Message) error {
	var n Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		w.logger.Warn("dropping undecodable notification", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if err := n.validate(); err != nil {
		w.logger.Warn("dropping invalid notification", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}

	if err := w.direct.NotifyAccessDecision(ctx, n); err != nil {
		w.metrics.ObserveNotification(string(n.Kind), "failed")
		w.logger.Error("deliver notification",
			zap.String("message_id", msg.ID),
			zap.String("kind", string(n.Kind)),
			zap.Error(err),
		)
		return err
	}

	w.metrics.ObserveNotification(string(n.Kind), "delivered")
	w.logger.Info("notification delivered", zap.String("message_id", msg.ID), zap.String("kind", string(n.Kind)))
	return nil
}
