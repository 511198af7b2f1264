package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATS publishes events to a JetStream stream so that several server
// instances share one feed. Subjects are <prefix>.<collection>.<userID>.
type NATS struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	prefix string
}

type NATSOptions struct {
	URL    string
	Stream string
	Prefix string
	MaxAge time.Duration
}

func NewNATS(ctx context.Context, opts NATSOptions) (*NATS, error) {
	nc, err := nats.Connect(opts.URL, nats.Name("helpline"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	if opts.MaxAge == 0 {
		opts.MaxAge = time.Hour
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        opts.Stream,
		Description: "Helpline change feed",
		Subjects:    []string{opts.Prefix + ".>"},
		MaxAge:      opts.MaxAge,
		Storage:     jetstream.MemoryStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating stream %q: %w", opts.Stream, err)
	}
	log.Infof("feed: using jetstream stream %s", opts.Stream)

	return &NATS{nc: nc, js: js, stream: opts.Stream, prefix: opts.Prefix}, nil
}

func (b *NATS) subject(collection Collection, userID string) string {
	return fmt.Sprintf("%s.%s.%s", b.prefix, collection, userID)
}

func (b *NATS) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	subject := b.subject(event.Collection, string(event.UserID))
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

type natsSubscription struct {
	consume jetstream.ConsumeContext
}

func (s *natsSubscription) Stop() {
	s.consume.Stop()
}

// Subscribe creates an ephemeral consumer that delivers events published
// from now on.
func (b *NATS) Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error) {
	userID := string(filter.UserID)
	if userID == "" {
		userID = "*"
	}
	subject := b.subject(filter.Collection, userID)

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
		FilterSubject:     subject,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckNonePolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer for %s: %w", subject, err)
	}

	consume, err := consumer.Consume(func(msg jetstream.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			log.Errorf("feed: decoding event from %s: %v", msg.Subject(), err)
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("consuming %s: %w", subject, err)
	}

	sub := &natsSubscription{consume: consume}
	go func() {
		<-ctx.Done()
		sub.Stop()
	}()
	return sub, nil
}

func (b *NATS) Close() error {
	if b.nc != nil {
		b.nc.Close()
	}
	return nil
}
