package telemetry

// ProvisioningBuckets for GeoServer REST round trips including retries.
var ProvisioningBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Listener metrics
var (
	// NotificationsTotal counts notifications by database and outcome
	// (dispatched, rejected, empty).
	NotificationsTotal CounterVec = noopCounterVec{}

	// RejectionsTotal counts rejected payloads by database and reason.
	RejectionsTotal CounterVec = noopCounterVec{}

	// ReconnectsTotal counts connection recoveries per database.
	ReconnectsTotal CounterVec = noopCounterVec{}

	// ListenerUp reports the listener state per database (1=listening).
	ListenerUp GaugeVec = noopGaugeVec{}
)

// Provisioning metrics
var (
	// ProvisioningTotal counts provisioning dispatches by database and
	// result (success, transient_error, permanent_error, unexpected_error).
	ProvisioningTotal CounterVec = noopCounterVec{}

	// ProvisioningDurationSeconds measures one full dispatch.
	ProvisioningDurationSeconds Histogram = NoopStat{}
)

// Alerting metrics
var (
	// AlertsTotal counts alerts by disposition (sent, suppressed, failed).
	AlertsTotal CounterVec = noopCounterVec{}
)

// Events metrics
var (
	// EventsPublishedTotal counts provisioning events by result of the
	// publish attempt (ok, error).
	EventsPublishedTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after the registry exists.
func InitMetrics() {
	NotificationsTotal = NewCounterVec(
		"notifications_total",
		"Notifications received by database and outcome",
		[]string{"database", "outcome"},
	)
	RejectionsTotal = NewCounterVec(
		"rejections_total",
		"Rejected notification payloads by database and reason",
		[]string{"database", "reason"},
	)
	ReconnectsTotal = NewCounterVec(
		"reconnects_total",
		"Database connection recoveries",
		[]string{"database"},
	)
	ListenerUp = NewGaugeVec(
		"listener_up",
		"Whether the listener for a database is in the LISTENING state",
		[]string{"database"},
	)

	ProvisioningTotal = NewCounterVec(
		"provisioning_total",
		"Provisioning dispatches by database and result",
		[]string{"database", "result"},
	)
	ProvisioningDurationSeconds = NewHistogramWithBuckets(
		"provisioning_duration_seconds",
		"Duration of one provisioning dispatch including retries",
		ProvisioningBuckets,
	)

	AlertsTotal = NewCounterVec(
		"alerts_total",
		"Operator alerts by disposition",
		[]string{"disposition"},
	)

	EventsPublishedTotal = NewCounterVec(
		"events_published_total",
		"Provisioning events published by result",
		[]string{"result"},
	)
}
