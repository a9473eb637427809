// Package events publishes provisioning outcomes to an optional message
// sink so downstream tooling can audit what the bridge did. Publishing is
// best-effort: a sink failure never affects dispatch.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hexgeo/geobridge/cfg"
	"github.com/hexgeo/geobridge/telemetry"
)

// Result values carried by an Event.
const (
	ResultSuccess        = "success"
	ResultTransientError = "transient_error"
	ResultPermanentError = "permanent_error"
	ResultUnexpected     = "unexpected_error"
)

// Event records one provisioning dispatch.
type Event struct {
	Schema    string    `json:"schema"`
	Database  string    `json:"database"`
	Workspace string    `json:"workspace"`
	Datastore string    `json:"datastore"`
	JNDIRef   string    `json:"jndi_ref"`
	Result    string    `json:"result"`
	Error     string    `json:"error,omitempty"`
	Instance  string    `json:"instance"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink represents a destination for provisioning events.
type Sink interface {
	// Publish sends an event to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.EventsConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

func createSink(config cfg.EventsConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Sink]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Sink)
	}
	return factory(config)
}

// Publisher marshals events as JSON and hands them to the configured sink.
// A nil *Publisher is valid and drops everything.
type Publisher struct {
	sink        Sink
	topicPrefix string
	instance    string
}

// NewPublisher builds a Publisher, or returns nil when no sink is
// configured.
func NewPublisher(config cfg.EventsConfiguration, instance string) (*Publisher, error) {
	if config.Sink == "" {
		return nil, nil
	}

	snk, err := createSink(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create events sink: %w", err)
	}

	log.Info().
		Str("sink", config.Sink).
		Str("topic_prefix", config.TopicPrefix).
		Msg("Provisioning event publishing enabled")

	return &Publisher{
		sink:        snk,
		topicPrefix: config.TopicPrefix,
		instance:    instance,
	}, nil
}

// Publish sends one event. Failures are logged and counted, never returned.
func (p *Publisher) Publish(event Event) {
	if p == nil {
		return
	}

	event.Instance = p.instance
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("schema", event.Schema).Msg("Failed to marshal provisioning event")
		return
	}

	topic := p.topicPrefix + "." + event.Database
	if err := p.sink.Publish(topic, event.Schema, data); err != nil {
		telemetry.EventsPublishedTotal.With("error").Inc()
		log.Warn().
			Err(err).
			Str("topic", topic).
			Str("schema", event.Schema).
			Msg("Failed to publish provisioning event")
		return
	}

	telemetry.EventsPublishedTotal.With("ok").Inc()
}

// Close releases the sink.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.sink.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close events sink")
	}
}
