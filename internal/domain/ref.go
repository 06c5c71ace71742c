package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// DefaultNamespace is used when a reference omits its namespace
const DefaultNamespace = "default"

// ErrInvalidRef is returned when a string cannot be parsed as an entity reference
var ErrInvalidRef = errors.New("invalid entity reference")

// EntityRef identifies an entity by kind, namespace and name.
// Comparison is case-insensitive on all three parts.
type EntityRef struct {
	Kind      string `json:"kind" yaml:"kind"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
}

// NewEntityRef creates a reference, defaulting the namespace when empty
func NewEntityRef(kind, namespace, name string) EntityRef {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return EntityRef{Kind: kind, Namespace: namespace, Name: name}
}

// ParseRef parses "kind:namespace/name" or "kind:name".
func ParseRef(s string) (EntityRef, error) {
	return ParseRefWithDefaults(s, "", DefaultNamespace)
}

// ParseRefWithDefaults parses a reference where the kind and namespace parts
// may be omitted, as in descriptor fields like `owner: team-a` or
// `system: platform/payments`.
func ParseRefWithDefaults(s, defaultKind, defaultNamespace string) (EntityRef, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return EntityRef{}, errors.Wrap(ErrInvalidRef, "empty reference")
	}

	kind := defaultKind
	rest := raw
	if i := strings.Index(raw, ":"); i >= 0 {
		kind = raw[:i]
		rest = raw[i+1:]
	}

	namespace := defaultNamespace
	name := rest
	if i := strings.Index(rest, "/"); i >= 0 {
		namespace = rest[:i]
		name = rest[i+1:]
	}

	switch {
	case kind == "":
		return EntityRef{}, errors.Wrapf(ErrInvalidRef, "%q: missing kind", s)
	case name == "":
		return EntityRef{}, errors.Wrapf(ErrInvalidRef, "%q: missing name", s)
	case namespace == "":
		return EntityRef{}, errors.Wrapf(ErrInvalidRef, "%q: empty namespace", s)
	case strings.ContainsAny(kind, "/") || strings.ContainsAny(name, ":/"):
		return EntityRef{}, errors.Wrapf(ErrInvalidRef, "%q: unexpected separator", s)
	}

	return EntityRef{Kind: kind, Namespace: namespace, Name: name}, nil
}

// String returns the canonical lowercase form "kind:namespace/name"
func (r EntityRef) String() string {
	namespace := r.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return strings.ToLower(r.Kind) + ":" + strings.ToLower(namespace) + "/" + strings.ToLower(r.Name)
}

// Equal reports whether two references have the same canonical form
func (r EntityRef) Equal(other EntityRef) bool {
	return r.String() == other.String()
}

// IsZero reports whether the reference is unset
func (r EntityRef) IsZero() bool {
	return r.Kind == "" && r.Name == ""
}

// CanonicalRef normalizes a raw reference string. Strings that do not parse are
// lowercased and returned as-is so that they can still be looked up (and fail
// to resolve) like any other reference.
func CanonicalRef(s string) string {
	ref, err := ParseRef(s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return ref.String()
}

// RefKind returns the kind part of a canonical reference string
func RefKind(canonical string) string {
	if i := strings.Index(canonical, ":"); i >= 0 {
		return canonical[:i]
	}
	return ""
}
