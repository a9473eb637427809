// Package route validates raw notification payloads and resolves the
// downstream JNDI connection reference for accepted schema names.
//
// The notification channel accepts arbitrary text from any principal with
// NOTIFY privilege on the source database, so every payload is treated as
// untrusted until it matches the schema naming contract.
package route

import (
	"fmt"
	"regexp"
	"strings"
)

// Reason classifies why a payload was rejected.
type Reason string

const (
	// ReasonPatternMismatch means the payload does not match the
	// prefix_category_suffix naming contract. Re-validating the same
	// payload will always fail, so it is never retried.
	ReasonPatternMismatch Reason = "pattern-mismatch"

	// ReasonNoRoute means the payload is well-formed but its prefix has
	// no entry in the target's routing table.
	ReasonNoRoute Reason = "no-route"
)

// Rejection is returned for payloads that must be dropped without retry.
type Rejection struct {
	Payload string
	Reason  Reason
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("payload %q rejected: %s", r.Payload, r.Reason)
}

// Decision is the routing outcome for an accepted payload.
type Decision struct {
	Schema  string // validated schema name, also the workspace/datastore name
	Prefix  string // schema family prefix (sk0, sk1)
	JNDIRef string // resolved JNDI connection reference
}

// Schema names follow <prefix>_<category>_<suffix>. Both the prefix and the
// category come from closed sets; the suffix is free-form but non-empty.
var (
	allowedPrefixes   = []string{"sk0", "sk1"}
	allowedCategories = []string{"ext", "int", "kba"}

	schemaPattern = regexp.MustCompile(fmt.Sprintf(
		`^(%s)_(%s)_(.+)$`,
		strings.Join(allowedPrefixes, "|"),
		strings.Join(allowedCategories, "|"),
	))
)

// ValidateAndRoute checks payload against the schema naming contract and
// resolves its prefix through table. It returns a *Rejection error for any
// payload that must be dropped.
func ValidateAndRoute(payload string, table map[string]string) (Decision, error) {
	m := schemaPattern.FindStringSubmatch(payload)
	if m == nil {
		return Decision{}, &Rejection{Payload: payload, Reason: ReasonPatternMismatch}
	}

	prefix := m[1]
	ref, ok := table[prefix]
	if !ok {
		return Decision{}, &Rejection{Payload: payload, Reason: ReasonNoRoute}
	}

	return Decision{
		Schema:  payload,
		Prefix:  prefix,
		JNDIRef: ref,
	}, nil
}
