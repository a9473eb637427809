package events

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/hexgeo/geobridge/cfg"
)

type recordingSink struct {
	topics []string
	keys   []string
	values [][]byte
	err    error
	closed bool
}

func (s *recordingSink) Publish(topic, key string, value []byte) error {
	if s.err != nil {
		return s.err
	}
	s.topics = append(s.topics, topic)
	s.keys = append(s.keys, key)
	s.values = append(s.values, value)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestNewPublisher_NoSinkConfigured(t *testing.T) {
	p, err := NewPublisher(cfg.EventsConfiguration{}, "node1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Fatal("expected nil publisher when no sink is configured")
	}
	// nil publisher must be safe to use
	p.Publish(Event{Schema: "sk0_ext_roads"})
	p.Close()
}

func TestNewPublisher_UnknownSink(t *testing.T) {
	_, err := NewPublisher(cfg.EventsConfiguration{Sink: "carrier-pigeon"}, "node1")
	if err == nil {
		t.Fatal("expected error for unknown sink type")
	}
}

func TestPublish_MarshalsEvent(t *testing.T) {
	rec := &recordingSink{}
	p := &Publisher{sink: rec, topicPrefix: "geobridge.provisioning", instance: "node1"}

	p.Publish(Event{
		Schema:    "sk0_ext_roads",
		Database:  "hex",
		Workspace: "sk0_ext_roads",
		Datastore: "sk0_ext_roads",
		JNDIRef:   "java:comp/env/jdbc/srv01.hex",
		Result:    ResultSuccess,
	})

	if len(rec.values) != 1 {
		t.Fatalf("published = %d, want 1", len(rec.values))
	}
	if rec.topics[0] != "geobridge.provisioning.hex" {
		t.Errorf("topic = %q", rec.topics[0])
	}
	if rec.keys[0] != "sk0_ext_roads" {
		t.Errorf("key = %q", rec.keys[0])
	}

	var event Event
	if err := json.Unmarshal(rec.values[0], &event); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if event.Result != ResultSuccess || event.Instance != "node1" {
		t.Errorf("event = %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
}

func TestPublish_SinkFailureIsSwallowed(t *testing.T) {
	rec := &recordingSink{err: fmt.Errorf("broker unavailable")}
	p := &Publisher{sink: rec, topicPrefix: "geobridge.provisioning", instance: "node1"}

	// Must not panic or return anything.
	p.Publish(Event{Schema: "sk0_ext_roads", Database: "hex", Result: ResultPermanentError})
}

func TestClose_ClosesSink(t *testing.T) {
	rec := &recordingSink{}
	p := &Publisher{sink: rec}
	p.Close()
	if !rec.closed {
		t.Fatal("sink not closed")
	}
}
