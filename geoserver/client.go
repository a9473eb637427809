// Package geoserver is a minimal client for the GeoServer REST API covering
// the slice the bridge needs: workspace and JNDI datastore provisioning plus
// a version probe. Both provisioning operations are idempotent: resources
// that already exist are left untouched.
package geoserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultRequestTimeout bounds a single HTTP attempt.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultCacheSize bounds the known-resource cache.
	DefaultCacheSize = 512
	// DefaultCacheTTL is how long a confirmed-present resource is trusted
	// before the next Ensure call probes GeoServer again.
	DefaultCacheTTL = 10 * time.Minute

	// maxErrorBody caps how much of an error response is kept for logs.
	maxErrorBody = 2048
)

// Config configures a Client.
type Config struct {
	BaseURL  string // e.g. http://localhost:8080/geoserver
	User     string
	Password string
	Timeout  time.Duration // per-attempt HTTP timeout
	Retry    RetryPolicy
	DryRun   bool // log create calls instead of issuing them
}

// Client talks to one GeoServer instance with basic auth.
//
// A Client is owned by exactly one listener; it is not safe for concurrent
// use by multiple goroutines.
type Client struct {
	restURL    string
	user       string
	password   string
	httpClient *http.Client
	retry      RetryPolicy
	dryRun     bool

	// known caches resources confirmed present, keyed by REST path, so a
	// burst of notifications for the same schema skips repeat probes.
	known *expirable.LRU[string, struct{}]
}

// NewClient builds a Client from config, applying defaults for unset fields.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("geoserver base URL is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRequestTimeout
	}
	if config.Retry.MaxRetries < 0 {
		return nil, fmt.Errorf("geoserver max retries must be >= 0")
	}
	if config.Retry.BaseDelay <= 0 {
		config.Retry.BaseDelay = DefaultRetryBaseDelay
	}

	return &Client{
		restURL:    strings.TrimRight(config.BaseURL, "/") + "/rest",
		user:       config.User,
		password:   config.Password,
		httpClient: &http.Client{Timeout: config.Timeout},
		retry:      config.Retry,
		dryRun:     config.DryRun,
		known:      expirable.NewLRU[string, struct{}](DefaultCacheSize, nil, DefaultCacheTTL),
	}, nil
}

// TestConnection probes GET /rest/about/version.json and logs the GeoServer
// version it reports. Used as the startup health check.
func (c *Client) TestConnection(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.restURL+"/about/version.json", nil, "version probe")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &PermanentError{
			Operation: "version probe",
			Status:    resp.StatusCode,
			Body:      readErrorBody(resp.Body),
		}
	}

	log.Info().Str("version", parseVersion(resp.Body)).Msg("Connected to GeoServer")
	return nil
}

// EnsureWorkspace creates workspace name unless it already exists.
func (c *Client) EnsureWorkspace(ctx context.Context, name string) error {
	path := "/workspaces/" + name
	exists, err := c.resourceExists(ctx, path, "workspace probe")
	if err != nil {
		return err
	}
	if exists {
		log.Debug().Str("workspace", name).Msg("Workspace already exists")
		return nil
	}

	payload := map[string]any{
		"workspace": map[string]any{"name": name},
	}

	if c.dryRun {
		log.Info().Str("workspace", name).Msg("[dry-run] Would create workspace")
		return nil
	}

	if err := c.create(ctx, c.restURL+"/workspaces", payload, "workspace create"); err != nil {
		return err
	}

	c.known.Add(path, struct{}{})
	log.Info().Str("workspace", name).Msg("Workspace created")
	return nil
}

// EnsureDatastore creates a JNDI PostGIS datastore in workspace unless it
// already exists. The connection parameters are the fixed read-only tuning
// the serving tier expects for published schemas.
func (c *Client) EnsureDatastore(ctx context.Context, workspace, store, jndiRef, schema string) error {
	path := "/workspaces/" + workspace + "/datastores/" + store
	exists, err := c.resourceExists(ctx, path, "datastore probe")
	if err != nil {
		return err
	}
	if exists {
		log.Debug().
			Str("workspace", workspace).
			Str("datastore", store).
			Msg("Datastore already exists")
		return nil
	}

	payload := map[string]any{
		"dataStore": map[string]any{
			"name":    store,
			"type":    "PostGIS (JNDI)",
			"enabled": true,
			"connectionParameters": map[string]any{
				"entry": []connectionParam{
					{Key: "dbtype", Value: "postgis"},
					{Key: "jndiReferenceName", Value: jndiRef},
					{Key: "schema", Value: schema},
					{Key: "Expose primary keys", Value: "true"},
					{Key: "fetch size", Value: "1000"},
					{Key: "Loose bbox", Value: "true"},
					{Key: "Estimated extends", Value: "true"},
					{Key: "encode functions", Value: "true"},
				},
			},
		},
	}

	if c.dryRun {
		log.Info().
			Str("workspace", workspace).
			Str("datastore", store).
			Str("jndi", jndiRef).
			Msg("[dry-run] Would create JNDI datastore")
		return nil
	}

	if err := c.create(ctx, c.restURL+"/workspaces/"+workspace+"/datastores", payload, "datastore create"); err != nil {
		return err
	}

	c.known.Add(path, struct{}{})
	log.Info().
		Str("workspace", workspace).
		Str("datastore", store).
		Str("jndi", jndiRef).
		Msg("Datastore created")
	return nil
}

// connectionParam is one entry in GeoServer's connectionParameters list.
type connectionParam struct {
	Key   string `json:"@key"`
	Value string `json:"$"`
}

// resourceExists probes GET {path}.json, consulting the known-resource cache
// first. Only a 200 counts as present; any other status means absent.
func (c *Client) resourceExists(ctx context.Context, path, op string) (bool, error) {
	if _, ok := c.known.Get(path); ok {
		return true, nil
	}

	resp, err := c.do(ctx, http.MethodGet, c.restURL+path+".json", nil, op)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		c.known.Add(path, struct{}{})
		return true, nil
	}
	return false, nil
}

// create POSTs payload and requires a 201.
func (c *Client) create(ctx context.Context, url string, payload any, op string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", op, err)
	}

	resp, err := c.do(ctx, http.MethodPost, url, body, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return &PermanentError{
			Operation: op,
			Status:    resp.StatusCode,
			Body:      readErrorBody(resp.Body),
		}
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}

// do issues one HTTP call through the retry wrapper. body may be nil; it is
// re-wrapped per attempt so retries resend the full payload.
func (c *Client) do(ctx context.Context, method, url string, body []byte, op string) (*http.Response, error) {
	return c.retry.doWithRetry(ctx, op, func() (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.user, c.password)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		return c.httpClient.Do(req)
	})
}

// parseVersion extracts the GeoServer version from /about/version.json.
func parseVersion(r io.Reader) string {
	var about struct {
		About struct {
			Resource []struct {
				Name    string `json:"@name"`
				Version string `json:"Version"`
			} `json:"resource"`
		} `json:"about"`
	}
	if err := json.NewDecoder(r).Decode(&about); err != nil {
		return "unknown"
	}
	for _, res := range about.About.Resource {
		if res.Name == "GeoServer" {
			return res.Version
		}
	}
	return "unknown"
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
