// Package bus defines the MessageBus contract: a thin pub/sub facade over a
// key/value broker. Delivery is best-effort broadcast — at-most-once, no
// persistence, no ordering guarantee across channels (within one channel,
// the broker's own delivery order is preserved). Subscribers that connect
// after a Publish do not observe it; durability is the JSONL writer's job,
// not the bus's.
package bus

import (
	"context"
	"encoding/json"
)

type (
	// Bus publishes and subscribes to named channels. Implementations must be
	// safe for concurrent use and must never let a Publish failure propagate
	// as a panic or a blocked caller — failures are reported through the
	// returned error and, for Subscribe, through the Subscription's Errs
	// channel.
	Bus interface {
		// Publish serializes payload to JSON and publishes it to channel.
		// Publish must not block for longer than it takes to hand the
		// payload to the broker client; it never blocks on subscriber
		// delivery.
		Publish(ctx context.Context, channel string, payload any) error

		// Subscribe opens a subscription to one or more channels. The
		// returned Subscription delivers every message published to any of
		// the given channels until Close is called or ctx is canceled.
		Subscribe(ctx context.Context, channels ...string) (Subscription, error)

		// Close releases broker resources held by the Bus (connection pool,
		// background goroutines). Close is idempotent.
		Close() error
	}

	// Message is one delivered publication: the channel it arrived on and
	// its raw JSON payload.
	Message struct {
		Channel string
		Payload json.RawMessage
	}

	// Subscription is a live, cancelable stream of Messages from one or more
	// channels.
	Subscription interface {
		// Messages delivers published messages in the order the broker
		// delivered them. The channel is closed after Close or a terminal
		// error.
		Messages() <-chan Message

		// Errs reports broker-level failures (e.g., connection lost). A
		// terminal error is always followed by the Messages channel
		// closing. Bus errors delivered here never propagate to the
		// publishing side of the system — only to this subscriber.
		Errs() <-chan error

		// Close cancels the subscription and releases broker resources.
		// Close is idempotent and safe to call from any goroutine; pending
		// in-flight deliveries are allowed to finish but no new ones are
		// dispatched afterward.
		Close() error
	}
)

// Channel name helpers. Every recorded message, sub_instance_started system
// event, and lifecycle transition is published on a name derived from the
// owning session id by one of these three functions — nowhere else in the
// codebase should a channel name be built by hand.
func MessagesChannel(sessionID string) string  { return "session:" + sessionID + ":messages" }
func SystemChannel(sessionID string) string    { return "session:" + sessionID + ":system" }
func LifecycleChannel(sessionID string) string { return "session:" + sessionID + ":lifecycle" }
