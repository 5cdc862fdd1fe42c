package nats_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-service-runtime/adapters/nats"
	cbus "github.com/next-trace/scg-service-runtime/contract/bus"
	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

type published struct {
	subject string
	data    []byte
	headers map[string]string
}

type fakeSub struct{ unsubscribed bool }

func (s *fakeSub) Unsubscribe() error {
	s.unsubscribed = true

	return nil
}

type fakeClient struct {
	mu      sync.Mutex
	calls   []published
	err     error
	reply   *cbus.Msg
	reqErr  error
	block   bool
	handler func(*cbus.Msg)
	pattern string
}

func (f *fakeClient) Publish(subject string, data []byte, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, published{subject, data, headers})

	return f.err
}

func (f *fakeClient) Request(ctx context.Context, subject string, data []byte, headers map[string]string) (*cbus.Msg, error) {
	if f.block {
		<-ctx.Done()

		return nil, ctx.Err()
	}

	f.mu.Lock()
	f.calls = append(f.calls, published{subject, data, headers})
	f.mu.Unlock()

	return f.reply, f.reqErr
}

func (f *fakeClient) Subscribe(pattern string, cb func(*cbus.Msg)) (cbus.Subscription, error) { //nolint:ireturn
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pattern = pattern
	f.handler = cb

	return &fakeSub{}, nil
}

func TestNATS_PublishAndErrors(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)

	if err := ad.Publish(t.Context(), "accounts.debited", []byte("x"), map[string]string{"h1": "v1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fc.calls) != 1 || fc.calls[0].subject != "accounts.debited" || fc.calls[0].headers["h1"] != "v1" {
		t.Fatalf("calls=%+v", fc.calls)
	}

	if err := ad.Publish(t.Context(), "accounts.*", nil, nil); !errors.Is(err, berr.ErrInvalidSubject) {
		t.Fatalf("want ErrInvalidSubject, got %v", err)
	}

	fc.err = errors.New("boom")
	if err := ad.Publish(t.Context(), "a.b", nil, nil); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	fc.err = context.Canceled
	if err := ad.Publish(t.Context(), "a.b", nil, nil); !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("context errors pass through, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := ad.Publish(ctx, "a.b", nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestNATS_NilClient(t *testing.T) {
	ad := nats.New(nil)

	if err := ad.Publish(t.Context(), "a.b", nil, nil); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}

	if _, err := ad.Subscribe("a.*", func(context.Context, *cbus.Msg) {}); !errors.Is(err, berr.ErrTransportNotConfigured) {
		t.Fatalf("want ErrTransportNotConfigured, got %v", err)
	}
}

func TestNATS_Request(t *testing.T) {
	fc := &fakeClient{reply: &cbus.Msg{Subject: "_INBOX.x", Data: []byte("ok")}}
	ad := nats.New(fc)

	msg, err := ad.Request(t.Context(), "calc.rpc.add", []byte("{}"), nil, time.Second)
	if err != nil || string(msg.Data) != "ok" {
		t.Fatalf("request: %v %v", msg, err)
	}

	fc.reply, fc.reqErr = nil, errors.Join(berr.ErrNoResponders, errors.New("nats: no responders available for request"))
	if _, err := ad.Request(t.Context(), "calc.rpc.add", nil, nil, time.Second); !errors.Is(err, berr.ErrNoResponders) {
		t.Fatalf("want ErrNoResponders, got %v", err)
	}

	fc.reqErr = errors.New("connection closed")
	if _, err := ad.Request(t.Context(), "calc.rpc.add", nil, nil, time.Second); !errors.Is(err, berr.ErrRequestFailed) {
		t.Fatalf("want ErrRequestFailed, got %v", err)
	}
}

func TestNATS_RequestTimeout(t *testing.T) {
	ad := nats.New(&fakeClient{block: true})

	_, err := ad.Request(t.Context(), "slow.rpc.x", nil, nil, 10*time.Millisecond)
	if !errors.Is(err, berr.ErrRemoteTimeout) {
		t.Fatalf("want ErrRemoteTimeout, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = ad.Request(ctx, "slow.rpc.x", nil, nil, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestNATS_SubscribeDeliversAsync(t *testing.T) {
	fc := &fakeClient{}
	ad := nats.New(fc)

	got := make(chan *cbus.Msg, 1)

	sub, err := ad.Subscribe("calc.rpc.>", func(ctx context.Context, m *cbus.Msg) {
		if ctx == nil {
			t.Errorf("nil delivery context")
		}

		got <- m
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if fc.pattern != "calc.rpc.>" {
		t.Fatalf("pattern=%s", fc.pattern)
	}

	fc.handler(&cbus.Msg{Subject: "calc.rpc.add", Reply: "_INBOX.1"})

	select {
	case m := <-got:
		if m.Reply != "_INBOX.1" {
			t.Fatalf("reply=%s", m.Reply)
		}
	case <-time.After(time.Second):
		t.Fatalf("no delivery")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	if err := ad.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// deliveries after close are dropped
	fc.handler(&cbus.Msg{Subject: "calc.rpc.add"})

	select {
	case <-got:
		t.Fatalf("delivery after close")
	case <-time.After(20 * time.Millisecond):
	}

	if err := ad.Publish(t.Context(), "a.b", nil, nil); !errors.Is(err, berr.ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}

	if _, err := ad.Subscribe("a.>.b", func(context.Context, *cbus.Msg) {}); !errors.Is(err, berr.ErrInvalidSubject) {
		t.Fatalf("want ErrInvalidSubject, got %v", err)
	}
}
