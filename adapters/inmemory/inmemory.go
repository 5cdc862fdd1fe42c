// Package inmemory provides a process-local transport for tests, examples and
// single-binary deployments. Subjects, wildcards and request/reply follow the same
// semantics as the broker-backed transports.
package inmemory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/subject"
)

const inboxPrefix = "_INBOX."

// Transport is a thread-safe in-memory implementation of cbus.Transport.
// Every delivery runs on its own goroutine with a context detached from the publisher,
// so handlers never inherit request-scoped values from the sender.
type Transport struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	inboxes map[string]chan *cbus.Msg
	closed  bool

	wg     sync.WaitGroup
	base   context.Context //nolint:containedctx
	cancel context.CancelFunc
}

// Ensure Transport implements the contract.
var _ cbus.Transport = (*Transport)(nil)

// New creates a new in-memory transport.
func New() *Transport {
	ctx, cancel := context.WithCancel(context.Background())

	return &Transport{
		subs:    make(map[uint64]*subscription),
		inboxes: make(map[string]chan *cbus.Msg),
		base:    ctx,
		cancel:  cancel,
	}
}

type subscription struct {
	t       *Transport
	id      uint64
	pattern string
	handler cbus.MsgHandler
}

func (s *subscription) Unsubscribe() error {
	s.t.mu.Lock()
	delete(s.t.subs, s.id)
	s.t.mu.Unlock()

	return nil
}

// Subscribe registers h for every subject matching pattern.
func (t *Transport) Subscribe(pattern string, h cbus.MsgHandler) (cbus.Subscription, error) { //nolint:ireturn
	if err := subject.ValidatePattern(pattern); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("subscribe %s: %w", pattern, berr.ErrClosed)
	}

	t.nextID++
	s := &subscription{t: t, id: t.nextID, pattern: pattern, handler: h}
	t.subs[s.id] = s

	return s, nil
}

// Publish delivers data to every matching subscription asynchronously.
func (t *Transport) Publish(ctx context.Context, subj string, data []byte, headers map[string]string) error {
	return t.publish(ctx, &cbus.Msg{Subject: subj, Data: data, Header: headers})
}

// Request publishes data with a private reply subject and waits for the first reply.
// It fails fast with ErrNoResponders when nothing is subscribed to subj.
func (t *Transport) Request(
	ctx context.Context,
	subj string,
	data []byte,
	headers map[string]string,
	timeout time.Duration,
) (*cbus.Msg, error) {
	inbox := inboxPrefix + xid.New().String()
	ch := make(chan *cbus.Msg, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()

		return nil, fmt.Errorf("request %s: %w", subj, berr.ErrClosed)
	}

	if !t.hasRespondersLocked(subj) {
		t.mu.Unlock()

		return nil, fmt.Errorf("request %s: %w", subj, berr.ErrNoResponders)
	}

	t.inboxes[inbox] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.inboxes, inbox)
		t.mu.Unlock()
	}()

	if err := t.publish(ctx, &cbus.Msg{Subject: subj, Reply: inbox, Data: data, Header: headers}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		return msg, nil
	case <-timer.C:
		return nil, fmt.Errorf("request %s: %w", subj, berr.ErrRemoteTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels the delivery context and waits for in-flight deliveries to return.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()

		return nil
	}

	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()

	return nil
}

func (t *Transport) publish(ctx context.Context, msg *cbus.Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := subject.ValidateSubject(msg.Subject); err != nil && !strings.HasPrefix(msg.Subject, inboxPrefix) {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return fmt.Errorf("publish %s: %w", msg.Subject, berr.ErrClosed)
	}

	if ch, ok := t.inboxes[msg.Subject]; ok {
		select {
		case ch <- clone(msg):
		default: // first reply wins
		}

		return nil
	}

	for _, s := range t.matchingLocked(msg.Subject) {
		t.wg.Add(1)

		go func(s *subscription, m *cbus.Msg) {
			defer t.wg.Done()

			s.handler(t.base, m)
		}(s, clone(msg))
	}

	return nil
}

func (t *Transport) hasRespondersLocked(subj string) bool {
	for _, s := range t.subs {
		if subject.Match(s.pattern, subj) {
			return true
		}
	}

	return false
}

// matchingLocked returns matching subscriptions in subscription order.
func (t *Transport) matchingLocked(subj string) []*subscription {
	var out []*subscription

	for _, s := range t.subs {
		if subject.Match(s.pattern, subj) {
			out = append(out, s)
		}
	}

	slices.SortFunc(out, func(a, b *subscription) int { return cmp.Compare(a.id, b.id) })

	return out
}

func clone(msg *cbus.Msg) *cbus.Msg {
	return &cbus.Msg{
		Subject: msg.Subject,
		Reply:   msg.Reply,
		Data:    slices.Clone(msg.Data),
		Header:  maps.Clone(msg.Header),
	}
}
