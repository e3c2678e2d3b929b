// Package validate implements the pure, side-effect-free validation
// rules for Platform API payloads. Field-level checks never
// short-circuit on the first violation: every FieldError found on a
// given payload is collected and returned together. Validation only
// short-circuits between layers (e.g. a malformed payload is not
// checked for business-rule collisions).
package validate

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flowplane/flowplane/internal/apperr"
	"github.com/flowplane/flowplane/internal/types"
)

var domainLabelRe = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)

const maxDomainLength = 253
const maxLabelLength = 63

// CreateDefinitionRequest is the normalized input to
// materializer.CreateDefinition.
type CreateDefinitionRequest struct {
	Team              string
	Domain            string
	ListenerIsolation bool
	Listener          *types.ListenerIntent
	Routes            []RouteRequest
}

// CreateTokenRequest is the normalized input to authn.CreateToken.
type CreateTokenRequest struct {
	Name      string
	Scopes    []types.Scope
	ExpiresAt *time.Time
}

// RouteRequest is the normalized input describing one route within a
// CreateDefinitionRequest or an AppendRoute call.
type RouteRequest struct {
	Match           types.RouteMatch
	Rewrite         string
	Upstream        *types.Upstream
	WeightedTargets []types.Upstream
	TimeoutSeconds  int
	Override        types.RouteOverride
	DeploymentNote  string
}

// Domain validates a domain name: RFC-ish character set, overall
// length, and per-label length.
func Domain(field, domain string) []apperr.FieldError {
	var errs []apperr.FieldError
	if domain == "" {
		return []apperr.FieldError{{Field: field, Detail: "must not be empty"}}
	}
	if len(domain) > maxDomainLength {
		errs = append(errs, apperr.FieldError{Field: field, Detail: "exceeds 253 characters"})
	}
	if !domainLabelRe.MatchString(domain) {
		errs = append(errs, apperr.FieldError{Field: field, Detail: "must match [a-zA-Z0-9.-]+"})
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) > maxLabelLength {
			errs = append(errs, apperr.FieldError{Field: field, Detail: "label exceeds 63 characters: " + label})
		}
	}
	return errs
}

// RouteMatch validates that exactly one match kind is populated and,
// for regex matches, that the pattern compiles. Go's regexp package is
// RE2-based (linear time by construction), which satisfies the
// safe-regex-dialect requirement without a third-party guard.
func RouteMatch(field string, m types.RouteMatch) []apperr.FieldError {
	var errs []apperr.FieldError
	switch m.Kind {
	case types.MatchPrefix, types.MatchExact, types.MatchTemplate:
		if m.Value == "" {
			errs = append(errs, apperr.FieldError{Field: field, Detail: "value must not be empty"})
		}
	case types.MatchRegex:
		if m.Value == "" {
			errs = append(errs, apperr.FieldError{Field: field, Detail: "value must not be empty"})
			break
		}
		if _, err := regexp.Compile(m.Value); err != nil {
			errs = append(errs, apperr.FieldError{Field: field, Detail: "does not compile: " + err.Error()})
		}
	default:
		errs = append(errs, apperr.FieldError{Field: field, Detail: "exactly one of prefix/exact/template/regex is required"})
	}
	return errs
}

// Timeout validates the route timeout, spec.md §4.4: [1, 3600] seconds.
func Timeout(field string, seconds int) []apperr.FieldError {
	if seconds < 1 || seconds > 3600 {
		return []apperr.FieldError{{Field: field, Detail: "must be between 1 and 3600 seconds"}}
	}
	return nil
}

// ListenerIsolation validates the listener-isolation invariants: when
// isolation is requested, bind_address and a non-reserved port are
// mandatory.
func ListenerIsolation(field string, isolation bool, listener *types.ListenerIntent) []apperr.FieldError {
	if !isolation {
		return nil
	}
	var errs []apperr.FieldError
	if listener == nil {
		return []apperr.FieldError{{Field: field, Detail: "listener is required when listener_isolation is true"}}
	}
	if listener.BindAddress == "" {
		errs = append(errs, apperr.FieldError{Field: field + ".bind_address", Detail: "must not be empty"})
	}
	if listener.Port == 0 || listener.Port > 65535 {
		errs = append(errs, apperr.FieldError{Field: field + ".port", Detail: "must be in [1, 65535]"})
	}
	if listener.Port == types.DefaultGatewayPort {
		errs = append(errs, apperr.FieldError{Field: field + ".port", Detail: "10000 is reserved for the default gateway"})
	}
	return errs
}

// Upstream validates that exactly one upstream shape (single endpoint or
// weighted targets) is present.
func Upstream(field string, single *types.Upstream, weighted []types.Upstream) []apperr.FieldError {
	if (single == nil) == (len(weighted) == 0) {
		return []apperr.FieldError{{Field: field, Detail: "exactly one of upstream or weighted_targets is required"}}
	}
	var errs []apperr.FieldError
	check := func(prefix string, u types.Upstream) {
		if u.Name == "" {
			errs = append(errs, apperr.FieldError{Field: prefix + ".name", Detail: "must not be empty"})
		}
		if !strings.Contains(u.Endpoint, ":") {
			errs = append(errs, apperr.FieldError{Field: prefix + ".endpoint", Detail: "must be host:port"})
		}
	}
	if single != nil {
		check(field, *single)
	}
	for _, u := range weighted {
		check(field, u)
	}
	return errs
}

// CreateDefinition validates a whole CreateDefinitionRequest, returning
// every field violation found across the definition and its routes.
func CreateDefinition(req CreateDefinitionRequest) *apperr.Error {
	var errs []apperr.FieldError
	errs = append(errs, Domain("domain", req.Domain)...)
	errs = append(errs, ListenerIsolation("listener", req.ListenerIsolation, req.Listener)...)
	if len(req.Routes) == 0 {
		errs = append(errs, apperr.FieldError{Field: "routes", Detail: "at least one route is required"})
	}
	for i, r := range req.Routes {
		errs = append(errs, routeErrors(i, r)...)
	}
	if len(errs) > 0 {
		return apperr.Invalid(errs)
	}
	return nil
}

// AppendRoute validates a single route addition to an existing
// definition.
func AppendRoute(r RouteRequest) *apperr.Error {
	errs := routeErrors(0, r)
	if len(errs) > 0 {
		return apperr.Invalid(errs)
	}
	return nil
}

// CreateToken validates a token-creation payload's shape: a name, at
// least one requested scope, and no duplicate scope entries. It does
// not check scope delegation (spec.md §4.4) since that depends on the
// creator's AuthContext, not the payload alone; callers compose it
// with ScopeSuperset.
func CreateToken(req CreateTokenRequest) *apperr.Error {
	var errs []apperr.FieldError
	if req.Name == "" {
		errs = append(errs, apperr.FieldError{Field: "name", Detail: "must not be empty"})
	}
	if len(req.Scopes) == 0 {
		errs = append(errs, apperr.FieldError{Field: "scopes", Detail: "at least one scope is required"})
	}
	seen := make(map[types.Scope]bool, len(req.Scopes))
	for _, s := range req.Scopes {
		if seen[s] {
			errs = append(errs, apperr.FieldError{Field: "scopes", Detail: "duplicate scope: " + string(s)})
		}
		seen[s] = true
	}
	if len(errs) > 0 {
		return apperr.Invalid(errs)
	}
	return nil
}

// ScopeSuperset reports whether creator carries every scope in
// requested (spec.md §4.4: "when creating a token, the creator's
// AuthContext must be a superset of the requested scopes").
func ScopeSuperset(creator, requested []types.Scope) bool {
	have := make(map[types.Scope]bool, len(creator))
	for _, s := range creator {
		have[s] = true
	}
	for _, s := range requested {
		if !have[s] {
			return false
		}
	}
	return true
}

func routeErrors(i int, r RouteRequest) []apperr.FieldError {
	var errs []apperr.FieldError
	errs = append(errs, RouteMatch(fieldf(i, "match"), r.Match)...)
	errs = append(errs, Timeout(fieldf(i, "timeout_seconds"), r.TimeoutSeconds)...)
	errs = append(errs, Upstream(fieldf(i, "upstream"), r.Upstream, r.WeightedTargets)...)
	return errs
}

func fieldf(i int, suffix string) string {
	return "routes[" + strconv.Itoa(i) + "]." + suffix
}
