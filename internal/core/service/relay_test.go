package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Wyydra/duo/internal/core/domain"
	"github.com/Wyydra/duo/internal/metrics"
)

func TestRelayRemapsTypes(t *testing.T) {
	tests := []struct {
		sent      domain.MessageType
		delivered domain.MessageType
	}{
		{domain.MessageCallOffer, domain.MessageIncomingCall},
		{domain.MessageCallAnswer, domain.MessageCallAnswer},
		{domain.MessageRenegotiationOffer, domain.MessageRenegotiationOffer},
		{domain.MessageRenegotiationAnswer, domain.MessageRenegotiationDone},
		{domain.MessageCallEnd, domain.MessageCallEnd},
	}
	for _, tt := range tests {
		t.Run(string(tt.sent), func(t *testing.T) {
			gw := newRecordingGateway()
			r := NewRelay(gw, nil)
			payload := json.RawMessage(`{"offer":{"type":"offer","sdp":"v=0 x"}}`)

			err := r.Relay(context.Background(), "a", domain.Envelope{Type: tt.sent, To: "b", Payload: payload})
			if err != nil {
				t.Fatalf("Relay: %v", err)
			}
			got := gw.take()
			if len(got) != 1 {
				t.Fatalf("expected one delivery, got %d", len(got))
			}
			d := got[0]
			if d.to != "b" || d.env.Type != tt.delivered || d.env.From != "a" {
				t.Errorf("delivered %+v to %s", d.env, d.to)
			}
			if d.env.To != "" {
				t.Errorf("delivered envelope should not carry to, got %q", d.env.To)
			}
			if !bytes.Equal(d.env.Payload, payload) {
				t.Errorf("payload changed: %s", d.env.Payload)
			}
		})
	}
}

func TestRelayRejectsBadEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		env  domain.Envelope
		want error
	}{
		{"unknown type", domain.Envelope{Type: "shout", To: "b"}, domain.ErrUnknownMessageType},
		{"server only type", domain.Envelope{Type: domain.MessageJoinAck, To: "b"}, domain.ErrUnknownMessageType},
		{"delivered name", domain.Envelope{Type: domain.MessageIncomingCall, To: "b"}, domain.ErrUnknownMessageType},
		{"no destination", domain.Envelope{Type: domain.MessageCallOffer}, domain.ErrMissingDestination},
		{"to self", domain.Envelope{Type: domain.MessageCallOffer, To: "a"}, domain.ErrSelfAddressed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newRecordingGateway()
			m := metrics.New()
			r := NewRelay(gw, m)

			err := r.Relay(context.Background(), "a", tt.env)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if got := gw.take(); len(got) != 0 {
				t.Errorf("nothing should be delivered, got %+v", got)
			}
			if m.Get(metrics.RelayRejected) != 1 {
				t.Errorf("RelayRejected = %d", m.Get(metrics.RelayRejected))
			}
		})
	}
}

func TestRelayUnreachableRecipient(t *testing.T) {
	gw := newRecordingGateway()
	gw.offline["b"] = true
	m := metrics.New()
	r := NewRelay(gw, m)

	err := r.Relay(context.Background(), "a", domain.Envelope{Type: domain.MessageCallEnd, To: "b"})
	if !errors.Is(err, domain.ErrRoutingFailure) {
		t.Fatalf("expected routing failure, got %v", err)
	}
	if m.Get(metrics.RelayDropped) != 1 || m.Get(metrics.Relayed) != 0 {
		t.Errorf("metrics = %v", m.Snapshot())
	}
}

func TestRelayKeepsOrder(t *testing.T) {
	gw := newRecordingGateway()
	r := NewRelay(gw, nil)
	ctx := context.Background()

	sent := []domain.MessageType{
		domain.MessageCallOffer,
		domain.MessageRenegotiationOffer,
		domain.MessageRenegotiationAnswer,
		domain.MessageCallEnd,
	}
	for _, typ := range sent {
		if err := r.Relay(ctx, "a", domain.Envelope{Type: typ, To: "b"}); err != nil {
			t.Fatal(err)
		}
	}
	got := types(gw.to("b"))
	want := []domain.MessageType{
		domain.MessageIncomingCall,
		domain.MessageRenegotiationOffer,
		domain.MessageRenegotiationDone,
		domain.MessageCallEnd,
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d: got %s, want %s", i, got[i], want[i])
		}
	}
}
