package sink

import "github.com/hexgeo/geobridge/events"

// Compile-time interface verification
var (
	_ events.Sink = (*NatsSink)(nil)
	_ events.Sink = (*KafkaSink)(nil)
	_ events.Sink = (*MockSink)(nil)
)
