package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"climate-api/internal/config"
)

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, payload: payload})
	return nil
}

func (p *fakePublisher) only(t *testing.T) (string, QueryReply) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(p.msgs))
	}
	var reply QueryReply
	if err := json.Unmarshal(p.msgs[0].payload, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return p.msgs[0].topic, reply
}

func newTestResponder(t *testing.T) (*Responder, *fakePublisher) {
	t.Helper()
	cfg := config.Config{
		MQTTBroker:   "localhost",
		MQTTPort:     1883,
		MQTTClientID: "climate-api-test",
		MQTTTopic:    "climate/query",
	}
	r := NewResponder(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	pub := &fakePublisher{}
	r.publish = pub.publish
	return r, pub
}

func TestNewResponder_NotConnected(t *testing.T) {
	r, _ := newTestResponder(t)
	if r.IsConnected() {
		t.Fatal("IsConnected() = true before Connect")
	}
}

func TestHandleMessage_Result(t *testing.T) {
	r, pub := newTestResponder(t)
	var got QueryRequest
	r.SetQueryHandler(func(_ context.Context, req QueryRequest) (any, error) {
		got = req
		return map[string][]string{"stations": {"USC00519281"}}, nil
	})

	r.handleMessage("climate/query", []byte(`{"id":"q1","query":"stations"}`))

	if got.ID != "q1" || got.Query != "stations" {
		t.Errorf("handler got %+v", got)
	}
	topic, reply := pub.only(t)
	if topic != "climate/query/reply" {
		t.Errorf("reply topic = %q, want climate/query/reply", topic)
	}
	if reply.ID != "q1" || reply.Error != "" {
		t.Errorf("reply = %+v", reply)
	}
	result, ok := reply.Result.(map[string]any)
	if !ok || result["stations"] == nil {
		t.Errorf("result = %#v", reply.Result)
	}
}

func TestHandleMessage_ReplyTo(t *testing.T) {
	r, pub := newTestResponder(t)
	r.SetQueryHandler(func(_ context.Context, _ QueryRequest) (any, error) {
		return []any{nil, nil, nil}, nil
	})

	r.handleMessage("climate/query", []byte(`{"id":"q2","query":"temp","start":"08232017","reply_to":"clients/abc"}`))

	topic, reply := pub.only(t)
	if topic != "clients/abc" {
		t.Errorf("reply topic = %q, want clients/abc", topic)
	}
	if reply.ID != "q2" {
		t.Errorf("reply id = %q", reply.ID)
	}
}

func TestHandleMessage_HandlerError(t *testing.T) {
	r, pub := newTestResponder(t)
	r.SetQueryHandler(func(_ context.Context, _ QueryRequest) (any, error) {
		return nil, errors.New("invalid date: \"2017-08-23\"")
	})

	r.handleMessage("climate/query", []byte(`{"id":"q3","query":"temp","start":"2017-08-23"}`))

	_, reply := pub.only(t)
	if reply.Error == "" || reply.Result != nil {
		t.Errorf("reply = %+v, want error only", reply)
	}
}

func TestHandleMessage_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantReply bool
	}{
		{name: "not json", payload: `{nope`, wantReply: false},
		{name: "missing id", payload: `{"query":"stations"}`, wantReply: false},
		{name: "unknown query", payload: `{"id":"x","query":"drop"}`, wantReply: true},
		{name: "temp without start", payload: `{"id":"x","query":"temp"}`, wantReply: true},
		{name: "wildcard reply topic", payload: `{"id":"x","query":"stations","reply_to":"a/#"}`, wantReply: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, pub := newTestResponder(t)
			called := false
			r.SetQueryHandler(func(_ context.Context, _ QueryRequest) (any, error) {
				called = true
				return nil, nil
			})

			r.handleMessage("climate/query", []byte(tt.payload))

			if called {
				t.Error("handler called for invalid message")
			}
			if !tt.wantReply {
				if len(pub.msgs) != 0 {
					t.Errorf("published %d messages, want 0", len(pub.msgs))
				}
				return
			}
			topic, reply := pub.only(t)
			if topic != "climate/query/reply" {
				t.Errorf("reply topic = %q, want climate/query/reply", topic)
			}
			if reply.ID != "x" || reply.Error == "" {
				t.Errorf("reply = %+v, want error for id x", reply)
			}
		})
	}
}

func TestHandleMessage_NoHandler(t *testing.T) {
	r, pub := newTestResponder(t)

	r.handleMessage("climate/query", []byte(`{"id":"q4","query":"tobs"}`))

	_, reply := pub.only(t)
	if reply.Error == "" {
		t.Errorf("reply = %+v, want error", reply)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	r, _ := newTestResponder(t)
	r.Disconnect()
	r.Disconnect()

	if err := r.Connect(context.Background()); err == nil {
		t.Fatal("Connect after Disconnect: err = nil, want error")
	}
}
