package query

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lattice-run/agentcore/runtime/agent/bus"
	"github.com/lattice-run/agentcore/runtime/agent/message"
)

// OnParentMessage is invoked for every message published on the root
// session's messages channel.
type OnParentMessage func(msg message.Envelope)

// OnChildMessage is invoked for every message published on a discovered
// child session's messages channel.
type OnChildMessage func(childSessionID, instanceName string, msg message.Envelope)

// OnChildStarted is invoked the moment a sub_instance_started event names a
// new child, before the coordinator has necessarily received any of the
// child's own messages.
type OnChildStarted func(childSessionID, instanceName string)

// Coordinator is SessionQuery.Subscribe's live handle: it owns one
// subscription per discovered session (the root plus every child found
// transitively) and can be stopped idempotently from any goroutine.
type Coordinator struct {
	bus bus.Bus

	onParent OnParentMessage
	onChild  OnChildMessage
	onStart  OnChildStarted

	mu       sync.Mutex
	children map[string]string // child session id -> instance name
	subs     []bus.Subscription
	wg       sync.WaitGroup
	stopped  bool
	errs     chan error
}

// Subscribe opens a live subscription rooted at sessionID: it follows
// messages on the root's own channels and, on discovering a
// sub_instance_started system event, recursively subscribes to the named
// child — so a deep tree of sub-instances all reports to this one
// Coordinator.
func (q *Query) Subscribe(ctx context.Context, b bus.Bus, sessionID, instanceName string, onParent OnParentMessage, onChild OnChildMessage, onStart OnChildStarted) (*Coordinator, error) {
	c := &Coordinator{
		bus:      b,
		onParent: onParent,
		onChild:  onChild,
		onStart:  onStart,
		children: make(map[string]string),
		errs:     make(chan error, 16),
	}
	if err := c.follow(ctx, sessionID, instanceName, true); err != nil {
		return nil, err
	}
	return c, nil
}

// follow subscribes to one session's messages and system channels. isRoot
// selects whether delivered messages are routed to onParent or onChild.
func (c *Coordinator) follow(ctx context.Context, sessionID, instanceName string, isRoot bool) error {
	sub, err := c.bus.Subscribe(ctx, bus.MessagesChannel(sessionID), bus.SystemChannel(sessionID))
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pump(ctx, sub, sessionID, instanceName, isRoot)
	return nil
}

func (c *Coordinator) pump(ctx context.Context, sub bus.Subscription, sessionID, instanceName string, isRoot bool) {
	defer c.wg.Done()
	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			var env message.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				continue
			}

			if env.IsSubInstanceStarted() {
				if sys, err := env.DecodeSystem(); err == nil && sys.ChildSessionID != "" {
					c.mu.Lock()
					_, known := c.children[sys.ChildSessionID]
					if !known {
						c.children[sys.ChildSessionID] = sys.InstanceName
					}
					c.mu.Unlock()
					if !known {
						if c.onStart != nil {
							c.onStart(sys.ChildSessionID, sys.InstanceName)
						}
						_ = c.follow(ctx, sys.ChildSessionID, sys.InstanceName, false)
					}
				}
				continue
			}

			if isRoot {
				if c.onParent != nil {
					c.onParent(env)
				}
			} else if c.onChild != nil {
				c.onChild(sessionID, instanceName, env)
			}
		case err, ok := <-sub.Errs():
			if !ok {
				return
			}
			select {
			case c.errs <- err:
			default:
			}
		}
	}
}

// GetChildSessions returns a snapshot of every child session discovered so
// far, keyed by child session id.
func (c *Coordinator) GetChildSessions() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.children))
	for k, v := range c.children {
		out[k] = v
	}
	return out
}

// Errs returns the coordinator's out-of-band error channel: broker failures
// on any one child's subscription are reported here rather than affecting
// the others.
func (c *Coordinator) Errs() <-chan error { return c.errs }

// Stop cancels every subscription — root and every discovered child —
// idempotently. Pending callbacks in flight are allowed to finish, but no
// new ones are dispatched afterward.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	subs := c.subs
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
}

// Wait blocks until all underlying subscription pumps have exited (normally
// because Stop was called, or because the broker connection was lost). A
// zero timeout waits indefinitely.
func (c *Coordinator) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
