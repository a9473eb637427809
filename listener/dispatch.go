package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hexgeo/geobridge/alert"
	"github.com/hexgeo/geobridge/cfg"
	"github.com/hexgeo/geobridge/events"
	"github.com/hexgeo/geobridge/geoserver"
	"github.com/hexgeo/geobridge/route"
	"github.com/hexgeo/geobridge/telemetry"
)

// Provisioner is the slice of geoserver.Client the dispatcher uses.
type Provisioner interface {
	EnsureWorkspace(ctx context.Context, name string) error
	EnsureDatastore(ctx context.Context, workspace, store, jndiRef, schema string) error
}

// ProvisioningDispatcher validates, routes and provisions one notification
// at a time. Errors never escape Dispatch: failed notifications are logged,
// alerted and dropped, and the listener moves on.
type ProvisioningDispatcher struct {
	Client   Provisioner
	Alerts   *alert.Notifier
	Events   *events.Publisher
	Instance string
}

// Dispatch handles one notification payload for target.
func (d *ProvisioningDispatcher) Dispatch(ctx context.Context, target cfg.DatabaseTarget, payload string) {
	db := target.DBName

	defer func() {
		if r := recover(); r != nil {
			telemetry.ProvisioningTotal.With(db, "unexpected_error").Inc()
			log.Error().
				Str("database", db).
				Str("payload", payload).
				Interface("panic", r).
				Msg("Unexpected error handling notification")
			d.Alerts.Send(
				"unexpected:"+db,
				fmt.Sprintf("geobridge: unexpected error on %s", db),
				fmt.Sprintf("Instance %s hit an unexpected error handling payload %q from database %q: %v",
					d.Instance, payload, db, r),
			)
		}
	}()

	decision, err := route.ValidateAndRoute(payload, target.Routing)
	if err != nil {
		// Expected, benign traffic: logged and dropped, never alerted and
		// never retried. Re-validating the same payload cannot succeed.
		var rejection *route.Rejection
		if errors.As(err, &rejection) {
			telemetry.NotificationsTotal.With(db, "rejected").Inc()
			telemetry.RejectionsTotal.With(db, string(rejection.Reason)).Inc()
			log.Warn().
				Str("database", db).
				Str("payload", payload).
				Str("reason", string(rejection.Reason)).
				Msg("Notification rejected")
			return
		}
		panic(err) // ValidateAndRoute only returns *Rejection
	}

	telemetry.NotificationsTotal.With(db, "dispatched").Inc()
	log.Info().
		Str("database", db).
		Str("schema", decision.Schema).
		Str("jndi", decision.JNDIRef).
		Msg("Publishing schema to GeoServer")

	start := time.Now()
	err = d.provision(ctx, decision)
	telemetry.ProvisioningDurationSeconds.Observe(time.Since(start).Seconds())

	result := classifyResult(err)
	telemetry.ProvisioningTotal.With(db, result).Inc()

	if err != nil {
		log.Error().
			Err(err).
			Str("database", db).
			Str("schema", decision.Schema).
			Str("result", result).
			Msg("Schema publication failed")
		d.Alerts.Send(
			"publish-failed:"+db,
			fmt.Sprintf("geobridge: schema publication failed on %s", db),
			fmt.Sprintf("Instance %s failed to publish schema %q from database %q to GeoServer.\nError: %v\nThe notification is dropped; re-trigger the schema to retry.",
				d.Instance, decision.Schema, db, err),
		)
	} else {
		log.Info().
			Str("database", db).
			Str("schema", decision.Schema).
			Msg("Schema published to GeoServer")
	}

	d.Events.Publish(events.Event{
		Schema:    decision.Schema,
		Database:  db,
		Workspace: decision.Schema,
		Datastore: decision.Schema,
		JNDIRef:   decision.JNDIRef,
		Result:    result,
		Error:     errString(err),
	})
}

// provision creates the workspace, then the datastore. The datastore step
// only runs when the workspace step succeeded.
func (d *ProvisioningDispatcher) provision(ctx context.Context, decision route.Decision) error {
	if err := d.Client.EnsureWorkspace(ctx, decision.Schema); err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	if err := d.Client.EnsureDatastore(ctx, decision.Schema, decision.Schema, decision.JNDIRef, decision.Schema); err != nil {
		return fmt.Errorf("datastore: %w", err)
	}
	return nil
}

func classifyResult(err error) string {
	if err == nil {
		return events.ResultSuccess
	}
	var transient *geoserver.TransientError
	if errors.As(err, &transient) {
		return events.ResultTransientError
	}
	var permanent *geoserver.PermanentError
	if errors.As(err, &permanent) {
		return events.ResultPermanentError
	}
	return events.ResultUnexpected
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
