// Package broker moves envelopes over Redis pub/sub channels.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

var ErrNoChannels = errors.New("no channels to subscribe")

// Handler receives every decoded envelope. Returning an error only logs it;
// pub/sub has no redelivery.
type Handler func(ctx context.Context, channel string, env contractx.Envelope) error

type Broker struct {
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger
}

var _ contractx.Publisher = (*Broker)(nil)

type Option func(*Broker)

func WithChannelPrefix(prefix string) Option {
	return func(b *Broker) { b.prefix = prefix }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

func New(client redis.UniversalClient, opts ...Option) *Broker {
	b := &Broker{client: client, logger: log.Logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) channel(name string) string {
	return b.prefix + name
}

func (b *Broker) Publish(ctx context.Context, channel string, env contractx.Envelope) error {
	data, err := contractx.Encode(env)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel(channel), data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe delivers messages from channels to handler until ctx is done.
// Messages that are not valid envelopes are logged and dropped.
func (b *Broker) Subscribe(ctx context.Context, handler Handler, channels ...string) error {
	if len(channels) == 0 {
		return ErrNoChannels
	}
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = b.channel(c)
	}

	sub := b.client.Subscribe(ctx, names...)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %v: %w", channels, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			channel := strings.TrimPrefix(msg.Channel, b.prefix)
			env, err := contractx.Decode([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn().Err(err).Str("channel", channel).Msg("dropping malformed envelope")
				continue
			}
			if err := handler(ctx, channel, env); err != nil {
				b.logger.Error().Err(err).Str("channel", channel).Msg("envelope handler failed")
			}
		}
	}
}

type fanout []contractx.Publisher

// Fanout publishes to every non-nil publisher and joins their errors.
func Fanout(pubs ...contractx.Publisher) contractx.Publisher {
	out := make(fanout, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f fanout) Publish(ctx context.Context, channel string, env contractx.Envelope) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, channel, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
