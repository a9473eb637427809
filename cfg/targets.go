package cfg

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Database targets come in two environment formats. The numbered form wins
// when any HEX_PG_DBNAME_<n> key is present:
//
//	HEX_PG_DBNAME_1=hex HEX_PG_HOST_1=db1 HEX_JNDI_1_sk0=java:comp/env/jdbc/srv01.hex
//	HEX_PG_DBNAME_2=praxis             HEX_JNDI_2_sk1=java:comp/env/jdbc/srv02.praxis
//
// Per-target host/port/user/password fall back to the flat HEX_PG_* values.
// Otherwise the legacy flat form describes a single target:
//
//	HEX_PG_DBNAME=hex HEX_JNDI_sk0=java:comp/env/jdbc/srv01.hex
var (
	numberedDBNameRe = regexp.MustCompile(`^HEX_PG_DBNAME_(\d+)$`)
	numberedJNDIRe   = regexp.MustCompile(`^HEX_JNDI_(\d+)_([A-Za-z0-9]+)$`)
	legacyJNDIRe     = regexp.MustCompile(`^HEX_JNDI_([A-Za-z0-9]+)$`)
)

const (
	defaultPGHost = "localhost"
	defaultPGPort = 5432
	defaultPGUser = "postgres"
)

// resolveTargets builds the ordered target list from env. It returns an
// empty list (not an error) when no database is configured; Validate turns
// that into a fatal configuration error with the missing key names.
func resolveTargets(env map[string]string) ([]DatabaseTarget, error) {
	indices := numberedIndices(env)
	if len(indices) > 0 {
		return resolveNumbered(env, indices)
	}
	return resolveLegacy(env)
}

// numberedIndices returns the sorted numeric suffixes of HEX_PG_DBNAME_<n>.
func numberedIndices(env map[string]string) []int {
	var indices []int
	for key := range env {
		if m := numberedDBNameRe.FindStringSubmatch(key); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			indices = append(indices, n)
		}
	}
	sort.Ints(indices)
	return indices
}

func resolveNumbered(env map[string]string, indices []int) ([]DatabaseTarget, error) {
	targets := make([]DatabaseTarget, 0, len(indices))

	for _, n := range indices {
		suffix := "_" + strconv.Itoa(n)

		dbname := env["HEX_PG_DBNAME"+suffix]
		if dbname == "" {
			return nil, fmt.Errorf("HEX_PG_DBNAME%s is set but empty", suffix)
		}

		port, err := targetPort(env, "HEX_PG_PORT"+suffix)
		if err != nil {
			return nil, err
		}

		targets = append(targets, DatabaseTarget{
			Host:     firstOf(env, "HEX_PG_HOST"+suffix, "HEX_PG_HOST", defaultPGHost),
			Port:     port,
			DBName:   dbname,
			User:     firstOf(env, "HEX_PG_USER"+suffix, "HEX_PG_USER", defaultPGUser),
			Password: firstOf(env, "HEX_PG_PASSWORD"+suffix, "HEX_PG_PASSWORD", ""),
			Routing:  numberedRouting(env, n),
		})
	}

	return targets, nil
}

func resolveLegacy(env map[string]string) ([]DatabaseTarget, error) {
	dbname := env["HEX_PG_DBNAME"]
	if dbname == "" {
		return nil, nil
	}

	port, err := targetPort(env, "HEX_PG_PORT")
	if err != nil {
		return nil, err
	}

	routing := map[string]string{}
	for key, value := range env {
		if m := legacyJNDIRe.FindStringSubmatch(key); m != nil && value != "" {
			routing[strings.ToLower(m[1])] = value
		}
	}

	return []DatabaseTarget{{
		Host:     firstOf(env, "HEX_PG_HOST", defaultPGHost),
		Port:     port,
		DBName:   dbname,
		User:     firstOf(env, "HEX_PG_USER", defaultPGUser),
		Password: env["HEX_PG_PASSWORD"],
		Routing:  routing,
	}}, nil
}

func numberedRouting(env map[string]string, n int) map[string]string {
	routing := map[string]string{}
	want := strconv.Itoa(n)
	for key, value := range env {
		m := numberedJNDIRe.FindStringSubmatch(key)
		if m == nil || m[1] != want || value == "" {
			continue
		}
		routing[strings.ToLower(m[2])] = value
	}
	return routing
}

// targetPort resolves a port key with fallback to the shared HEX_PG_PORT
// and the Postgres default.
func targetPort(env map[string]string, key string) (int, error) {
	v := env[key]
	if v == "" && key != "HEX_PG_PORT" {
		v = env["HEX_PG_PORT"]
	}
	if v == "" {
		return defaultPGPort, nil
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q", key, v)
	}
	return port, nil
}

// firstOf returns the first non-empty env value among keys; the final
// argument is the fallback default.
func firstOf(env map[string]string, keysAndDefault ...string) string {
	keys := keysAndDefault[:len(keysAndDefault)-1]
	for _, key := range keys {
		if v := env[key]; v != "" {
			return v
		}
	}
	return keysAndDefault[len(keysAndDefault)-1]
}
