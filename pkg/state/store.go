package state

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Store is the single authoritative map of service name to Status. The gate
// evaluator only ever reads it; probes and the process watcher write it.
// Every transition is broadcast to in-process waiters and, when a publisher
// is attached, published on EventsTopic in the order it was recorded.
type Store struct {
	mu      sync.Mutex
	states  map[string]Status
	changed chan struct{}
	pub     message.Publisher
	events  chan ChangeEvent

	closeOnce sync.Once
}

func NewStore(services []string, pub message.Publisher) *Store {
	states := make(map[string]Status, len(services))
	for _, name := range services {
		states[name] = StatusNotStarted
	}
	s := &Store{
		states:  states,
		changed: make(chan struct{}),
		pub:     pub,
	}
	if pub != nil {
		s.events = make(chan ChangeEvent, 256)
		go s.dispatch()
	}
	return s
}

func (s *Store) Get(name string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	return st, ok
}

// Snapshot returns a copy of the full state map.
func (s *Store) Snapshot() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

// Set records a transition and wakes all waiters. Setting a service to the
// status it already has is a no-op and publishes nothing. Events are queued
// under the store lock so delivery order matches transition order.
func (s *Store) Set(name string, to Status, reason string) error {
	s.mu.Lock()
	from, ok := s.states[name]
	if !ok {
		s.mu.Unlock()
		return errors.Errorf("unknown service %q", name)
	}
	if from == to {
		s.mu.Unlock()
		return nil
	}
	s.states[name] = to
	close(s.changed)
	s.changed = make(chan struct{})
	if s.events != nil {
		ev := ChangeEvent{Service: name, From: from, To: to, Reason: reason, At: time.Now()}
		select {
		case s.events <- ev:
		default:
			log.Warn().Str("service", name).Msg("event queue full; dropping state event")
		}
	}
	s.mu.Unlock()

	log.Debug().Str("service", name).Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("state transition")
	return nil
}

// dispatch delivers queued events to the publisher one at a time. Combined
// with a publisher that blocks until subscribers ack, subscribers observe
// transitions in the order they happened.
func (s *Store) dispatch() {
	for ev := range s.events {
		b, err := json.Marshal(ev)
		if err != nil {
			log.Warn().Str("service", ev.Service).Err(err).Msg("marshal state event failed")
			continue
		}
		msg := message.NewMessage(watermill.NewUUID(), b)
		if err := s.pub.Publish(EventsTopic, msg); err != nil {
			log.Warn().Str("service", ev.Service).Err(err).Msg("publish state event failed")
		}
	}
}

// Close stops event dispatch. Transitions recorded afterwards are still
// applied and wake waiters, but are no longer published.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		ch := s.events
		s.events = nil
		s.mu.Unlock()
		if ch != nil {
			close(ch)
		}
	})
}

// Await blocks until pred returns true against a snapshot of the state map,
// re-evaluating on every transition. A pred error aborts the wait.
func (s *Store) Await(ctx context.Context, pred func(map[string]Status) (bool, error)) error {
	for {
		s.mu.Lock()
		snap := make(map[string]Status, len(s.states))
		for k, v := range s.states {
			snap[k] = v
		}
		ch := s.changed
		s.mu.Unlock()

		ok, err := pred(snap)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "await state")
		case <-ch:
		}
	}
}
