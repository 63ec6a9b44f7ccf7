package inproc

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"hundred_prisoners/internal/domain"
)

var (
	ErrSessionNotRegistered = errors.New("session has no subscribers in bus")
	ErrSubscriberQueueFull  = errors.New("subscriber queue is full")
)

// Bus fans session events out to every subscriber of that session.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*subscriber
	buffer int
}

type subscriber struct {
	ch   chan domain.SessionEvent
	done chan struct{}
}

// Subscription is one reader of a session. Done is closed once the
// subscription is dropped, by Unsubscribe or CloseSession.
type Subscription struct {
	ID      string
	Session string
	Events  <-chan domain.SessionEvent
	Done    <-chan struct{}
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]map[string]*subscriber),
		buffer: buffer,
	}
}

func (b *Bus) Subscribe(sessionID string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	bySub, ok := b.subs[sessionID]
	if !ok {
		bySub = make(map[string]*subscriber)
		b.subs[sessionID] = bySub
	}
	id := uuid.NewString()
	s := &subscriber{
		ch:   make(chan domain.SessionEvent, b.buffer),
		done: make(chan struct{}),
	}
	bySub[id] = s
	return Subscription{ID: id, Session: sessionID, Events: s.ch, Done: s.done}
}

func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bySub, ok := b.subs[sub.Session]
	if !ok {
		return
	}
	s, ok := bySub[sub.ID]
	if !ok {
		return
	}
	delete(bySub, sub.ID)
	close(s.done)
	if len(bySub) == 0 {
		delete(b.subs, sub.Session)
	}
}

func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs[sessionID] {
		close(s.done)
	}
	delete(b.subs, sessionID)
}

func (b *Bus) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}

// Publish delivers without blocking and reports a full queue.
func (b *Bus) Publish(ev domain.SessionEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bySub, ok := b.subs[ev.Session]
	if !ok || len(bySub) == 0 {
		return ErrSessionNotRegistered
	}
	var full bool
	for _, s := range bySub {
		select {
		case s.ch <- ev:
		default:
			full = true
		}
	}
	if full {
		return ErrSubscriberQueueFull
	}
	return nil
}

// PublishWait blocks until every subscriber has room for ev, so the slowest
// subscriber sets the pace. Subscribers dropped while waiting are skipped.
func (b *Bus) PublishWait(ctx context.Context, ev domain.SessionEvent) error {
	b.mu.RLock()
	bySub, ok := b.subs[ev.Session]
	targets := make([]*subscriber, 0, len(bySub))
	for _, s := range bySub {
		targets = append(targets, s)
	}
	b.mu.RUnlock()
	if !ok || len(targets) == 0 {
		return ErrSessionNotRegistered
	}

	for _, s := range targets {
		select {
		case s.ch <- ev:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
