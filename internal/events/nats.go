package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/themeagent/internal/logging"
)

// Sink receives events forwarded out of a Bus.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// NATSPublisher publishes events to NATS.
//
// Each event is published to subject:
//
//	{prefix}.runs.{run_id}.{type}
//
// with the full JSON-encoded Event as the message body.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a sink over an established connection.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "themeagent"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject an event is published to.
func (p *NATSPublisher) Subject(e Event) string {
	return fmt.Sprintf("%s.runs.%s.%s", p.prefix, e.RunID, e.Type)
}

// Send publishes one event.
func (p *NATSPublisher) Send(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(e), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	return nil
}

// Forward drains sub into sink until the subscription ends or ctx is done.
// Sink failures are logged and do not stop forwarding.
func Forward(ctx context.Context, sub *Subscription, sink Sink, logger *logging.Logger) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := sink.Send(ctx, e); err != nil {
				logger.Warn(ctx, "event sink send failed",
					zap.String("run_id", e.RunID),
					zap.Int64("seq", e.Seq),
					zap.Error(err))
			}
		}
	}
}
