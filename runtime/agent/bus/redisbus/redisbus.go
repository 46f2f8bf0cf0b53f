// Package redisbus implements bus.Bus over Redis's plain PUBLISH/SUBSCRIBE
// commands. It deliberately does not use Redis Streams or a consumer-group
// library: those give persistence and replay, and the bus contract requires
// the opposite — a subscriber that connects after a Publish must never
// observe it.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/lattice-run/agentcore/config"
	"github.com/lattice-run/agentcore/runtime/agent/bus"
	"github.com/lattice-run/agentcore/runtime/agent/runtimeerr"
)

// Bus is the Redis-backed bus.Bus implementation. One Bus wraps one
// redis.Client and one per-process publish rate limiter; every Publish from
// every goroutine in the process shares that limiter, bounding the total
// rate at which this process can flood the broker regardless of how many
// sessions are active concurrently.
type Bus struct {
	rdb     *redis.Client
	limiter *rate.Limiter

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// New constructs a Bus from streaming configuration. publishLimit bounds
// publishes per second across the whole process (burst equal to the limit);
// a zero or negative value disables throttling.
func New(cfg config.RedisConfig, publishLimit int) *Bus {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.URL}
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	rdb := redis.NewClient(opts)
	var limiter *rate.Limiter
	if publishLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(publishLimit), publishLimit)
	}
	return &Bus{rdb: rdb, limiter: limiter, subs: make(map[*subscription]struct{})}
}

// NewFromURL parses a redis:// URL directly, bypassing config.RedisConfig.
func NewFromURL(url string, publishLimit int) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, runtimeerr.NewConfigError("redis.url", err.Error())
	}
	b := &Bus{rdb: redis.NewClient(opts), subs: make(map[*subscription]struct{})}
	if publishLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(publishLimit), publishLimit)
	}
	return b, nil
}

func (b *Bus) Publish(ctx context.Context, channel string, payload any) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return runtimeerr.NewBusError(channel, "publish", err)
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return runtimeerr.NewBusError(channel, "marshal", err)
	}
	if err := b.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		return runtimeerr.NewBusError(channel, "publish", err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, channels ...string) (bus.Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, runtimeerr.NewBusError(fmt.Sprintf("%v", channels), "subscribe", err)
	}

	sub := &subscription{
		bus:      b,
		ps:       ps,
		messages: make(chan bus.Message, 64),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.pump()
	return sub, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
	return b.rdb.Close()
}

type subscription struct {
	bus      *Bus
	ps       *redis.PubSub
	messages chan bus.Message
	errs     chan error
	done     chan struct{}
	closeOnce sync.Once
}

func (s *subscription) pump() {
	defer close(s.messages)
	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.messages <- bus.Message{Channel: msg.Channel, Payload: json.RawMessage(msg.Payload)}:
			default:
				// Slow subscriber: drop rather than block the broker's delivery loop.
			}
		}
	}
}

func (s *subscription) Messages() <-chan bus.Message { return s.messages }
func (s *subscription) Errs() <-chan error            { return s.errs }

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
