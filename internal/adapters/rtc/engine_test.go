package rtc

import (
	"encoding/json"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func registerTestProducer(e *Engine, id string) *Producer {
	p := &Producer{id: id, engine: e, relay: NewRelay()}
	e.registerProducer(p)
	return p
}

func TestCanConsumeUnknownProducer(t *testing.T) {
	e := newTestEngine(t)
	caps := json.RawMessage(`{"codecs":[{"mimeType":"audio/opus"}]}`)
	if e.CanConsume("nope", caps) {
		t.Fatal("consume allowed for unknown producer")
	}
}

func TestCanConsumeMatchesOpus(t *testing.T) {
	e := newTestEngine(t)
	registerTestProducer(e, "p1")

	caps := json.RawMessage(`{"codecs":[{"mimeType":"video/VP8"},{"mimeType":"AUDIO/OPUS"}]}`)
	if !e.CanConsume("p1", caps) {
		t.Fatal("opus capability rejected")
	}
}

func TestCanConsumeRejectsWithoutAudioCodec(t *testing.T) {
	e := newTestEngine(t)
	registerTestProducer(e, "p1")

	caps := json.RawMessage(`{"codecs":[{"mimeType":"video/VP8"}]}`)
	if e.CanConsume("p1", caps) {
		t.Fatal("consume allowed without a matching audio codec")
	}
}

func TestCanConsumeRejectsMalformedCapabilities(t *testing.T) {
	e := newTestEngine(t)
	registerTestProducer(e, "p1")

	if e.CanConsume("p1", json.RawMessage(`not json`)) {
		t.Fatal("consume allowed with malformed capabilities")
	}
}

func TestProducerCloseUnregisters(t *testing.T) {
	e := newTestEngine(t)
	p := registerTestProducer(e, "p1")

	p.Close()
	if _, ok := e.producer("p1"); ok {
		t.Fatal("producer still registered after close")
	}
}
