package geoserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGeoServer is a minimal in-memory GeoServer REST endpoint.
type fakeGeoServer struct {
	mu         sync.Mutex
	workspaces map[string]bool
	datastores map[string]bool // "ws/store"
	posts      int
	probes     int
	lastBody   []byte

	createStatus int // non-zero forces this status on POST
}

func newFakeGeoServer() *fakeGeoServer {
	return &fakeGeoServer{
		workspaces: map[string]bool{},
		datastores: map[string]bool{},
	}
}

func (f *fakeGeoServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/rest/about/version.json":
			io.WriteString(w, `{"about":{"resource":[{"@name":"GeoServer","Version":"2.25.2"}]}}`)

		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/rest/workspaces/"):
			f.probes++
			name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/rest/workspaces/"), ".json")
			if parts := strings.Split(name, "/datastores/"); len(parts) == 2 {
				if f.datastores[parts[0]+"/"+parts[1]] {
					io.WriteString(w, "{}")
				} else {
					w.WriteHeader(http.StatusNotFound)
				}
				return
			}
			if f.workspaces[name] {
				io.WriteString(w, "{}")
			} else {
				w.WriteHeader(http.StatusNotFound)
			}

		case r.Method == http.MethodPost && r.URL.Path == "/rest/workspaces":
			f.posts++
			f.lastBody, _ = io.ReadAll(r.Body)
			if f.createStatus != 0 {
				w.WriteHeader(f.createStatus)
				return
			}
			var payload struct {
				Workspace struct {
					Name string `json:"name"`
				} `json:"workspace"`
			}
			require.NoError(t, json.Unmarshal(f.lastBody, &payload))
			f.workspaces[payload.Workspace.Name] = true
			w.WriteHeader(http.StatusCreated)

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/datastores"):
			f.posts++
			f.lastBody, _ = io.ReadAll(r.Body)
			if f.createStatus != 0 {
				w.WriteHeader(f.createStatus)
				return
			}
			ws := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/rest/workspaces/"), "/datastores")
			var payload struct {
				DataStore struct {
					Name string `json:"name"`
				} `json:"dataStore"`
			}
			require.NoError(t, json.Unmarshal(f.lastBody, &payload))
			f.datastores[ws+"/"+payload.DataStore.Name] = true
			w.WriteHeader(http.StatusCreated)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:  baseURL,
		User:     "admin",
		Password: "secret",
		Timeout:  2 * time.Second,
		Retry:    RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond},
	})
	require.NoError(t, err)
	return client
}

func TestTestConnection(t *testing.T) {
	fake := newFakeGeoServer()
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.TestConnection(context.Background()))
}

func TestTestConnection_BadCredentials(t *testing.T) {
	fake := newFakeGeoServer()
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL:  srv.URL,
		User:     "admin",
		Password: "wrong",
		Retry:    RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond},
	})
	require.NoError(t, err)

	err = client.TestConnection(context.Background())
	var pe *PermanentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
}

func TestEnsureWorkspace_CreatesWhenAbsent(t *testing.T) {
	fake := newFakeGeoServer()
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.EnsureWorkspace(context.Background(), "sk0_ext_roads"))

	// Second call: the workspace now exists, no further create is issued.
	require.NoError(t, client.EnsureWorkspace(context.Background(), "sk0_ext_roads"))

	assert.Equal(t, 1, fake.posts, "expected exactly one create request")
	assert.True(t, fake.workspaces["sk0_ext_roads"])
}

func TestEnsureWorkspace_ExistingSkipsCreate(t *testing.T) {
	fake := newFakeGeoServer()
	fake.workspaces["sk0_ext_roads"] = true
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.EnsureWorkspace(context.Background(), "sk0_ext_roads"))
	assert.Equal(t, 0, fake.posts)
}

func TestEnsureWorkspace_ServerErrorIsPermanent(t *testing.T) {
	fake := newFakeGeoServer()
	fake.createStatus = http.StatusInternalServerError
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.EnsureWorkspace(context.Background(), "sk0_ext_roads")

	var pe *PermanentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusInternalServerError, pe.Status)
	// HTTP responses are terminal: exactly one create attempt.
	assert.Equal(t, 1, fake.posts)
}

func TestEnsureDatastore_SendsConnectionParameters(t *testing.T) {
	fake := newFakeGeoServer()
	fake.workspaces["sk0_ext_parks"] = true
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.EnsureDatastore(context.Background(),
		"sk0_ext_parks", "sk0_ext_parks", "java:comp/env/jdbc/srv01.hex", "sk0_ext_parks")
	require.NoError(t, err)

	var payload struct {
		DataStore struct {
			Name                 string `json:"name"`
			Type                 string `json:"type"`
			Enabled              bool   `json:"enabled"`
			ConnectionParameters struct {
				Entry []struct {
					Key   string `json:"@key"`
					Value string `json:"$"`
				} `json:"entry"`
			} `json:"connectionParameters"`
		} `json:"dataStore"`
	}
	require.NoError(t, json.Unmarshal(fake.lastBody, &payload))

	assert.Equal(t, "sk0_ext_parks", payload.DataStore.Name)
	assert.Equal(t, "PostGIS (JNDI)", payload.DataStore.Type)
	assert.True(t, payload.DataStore.Enabled)

	params := map[string]string{}
	for _, e := range payload.DataStore.ConnectionParameters.Entry {
		params[e.Key] = e.Value
	}
	assert.Equal(t, "postgis", params["dbtype"])
	assert.Equal(t, "java:comp/env/jdbc/srv01.hex", params["jndiReferenceName"])
	assert.Equal(t, "sk0_ext_parks", params["schema"])
	assert.Equal(t, "true", params["Expose primary keys"])
	assert.Equal(t, "1000", params["fetch size"])
}

func TestEnsureDatastore_ExistingSkipsCreate(t *testing.T) {
	fake := newFakeGeoServer()
	fake.workspaces["ws"] = true
	fake.datastores["ws/store"] = true
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.EnsureDatastore(context.Background(), "ws", "store", "jndi/ref", "ws"))
	assert.Equal(t, 0, fake.posts)
}

func TestExistenceCache_SkipsRepeatProbes(t *testing.T) {
	fake := newFakeGeoServer()
	fake.workspaces["sk0_ext_roads"] = true
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.EnsureWorkspace(context.Background(), "sk0_ext_roads"))
	require.NoError(t, client.EnsureWorkspace(context.Background(), "sk0_ext_roads"))
	require.NoError(t, client.EnsureWorkspace(context.Background(), "sk0_ext_roads"))

	assert.Equal(t, 1, fake.probes, "repeat calls should hit the cache, not GeoServer")
}

func TestEnsureWorkspace_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // nothing listening anymore

	client, err := NewClient(Config{
		BaseURL:  url,
		User:     "admin",
		Password: "secret",
		Retry:    RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond},
	})
	require.NoError(t, err)

	err = client.EnsureWorkspace(context.Background(), "sk0_ext_roads")
	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
}

func TestDryRun_DoesNotCreate(t *testing.T) {
	fake := newFakeGeoServer()
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client, err := NewClient(Config{
		BaseURL:  srv.URL,
		User:     "admin",
		Password: "secret",
		Retry:    RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond},
		DryRun:   true,
	})
	require.NoError(t, err)

	require.NoError(t, client.EnsureWorkspace(context.Background(), "sk0_ext_roads"))
	require.NoError(t, client.EnsureDatastore(context.Background(), "sk0_ext_roads", "sk0_ext_roads", "jndi/ref", "sk0_ext_roads"))
	assert.Equal(t, 0, fake.posts)
}
