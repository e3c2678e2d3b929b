// Package types holds the domain entities materialized from the
// Platform API: API Definitions, Routes, and the Envoy resources
// (Clusters, RouteConfigurations, Listeners) derived from them, plus
// tokens and audit events. These are storage-shaped records; the wire
// translation into Envoy's protobuf resources lives in
// internal/envoyresource.
package types

import "time"

// MatchKind is the kind of path match an ApiRoute specifies.
type MatchKind string

const (
	MatchPrefix   MatchKind = "prefix"
	MatchExact    MatchKind = "exact"
	MatchTemplate MatchKind = "template"
	MatchRegex    MatchKind = "regex"
)

// RouteMatch describes how a request is matched to a route.
type RouteMatch struct {
	Kind  MatchKind
	Value string
}

// Upstream is a single weighted upstream target.
type Upstream struct {
	Name     string
	Endpoint string // host:port
	Weight   uint32 // 0 means "unweighted single target"
}

// ApiDefinition is the user-facing intent: a domain plus one or more
// routes mapped to upstream services.
type ApiDefinition struct {
	ID                string
	Team              string
	Domain            string
	ListenerIsolation bool
	Listener          *ListenerIntent // required when ListenerIsolation is true
	BootstrapURI      string
	Revision          uint64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ListenerIntent is the caller-specified placement for an isolated
// listener.
type ListenerIntent struct {
	Name        string
	BindAddress string
	Port        uint32
	Protocol    string // "HTTP" or "HTTPS"
}

// RouteOverride carries per-route filter overrides (cors, authn, ...).
// The set of supported keys is intentionally open-ended; values are
// opaque to the Materializer and passed through to the HCM's
// per-route filter config.
type RouteOverride map[string]map[string]string

// ApiRoute is one route belonging to an ApiDefinition.
type ApiRoute struct {
	ID              string
	ApiDefinitionID string
	Match           RouteMatch
	Rewrite         string
	Upstream        *Upstream
	WeightedTargets []Upstream
	TimeoutSeconds  int
	Override        RouteOverride
	DeploymentNote  string
}

// Cluster is an Envoy upstream cluster derived from one or more
// ApiRoute upstreams. Name is the upstream name given on the route,
// used as is; routes naming the same upstream share one Cluster.
type Cluster struct {
	Name       string
	Endpoints  []string // host:port
	LBPolicy   string
	RefCount   int // resolves spec open question: reference-counted deletion
}

// VirtualHost is one domain's set of routes within a RouteConfiguration.
type VirtualHost struct {
	Name    string
	Domains []string
	Routes  []*ApiRoute
}

// RouteConfiguration groups virtual hosts served by one or more
// listeners. SharedRouteConfigurationName is the well-known name of the
// default gateway's RouteConfiguration.
type RouteConfiguration struct {
	Name         string
	VirtualHosts []*VirtualHost
}

const SharedRouteConfigurationName = "default-gateway-routes"

// DefaultGatewayListenerName is the well-known name of the shared
// listener that non-isolated APIs merge into.
const DefaultGatewayListenerName = "default-gateway"

// DefaultGatewayPort is reserved for the default gateway and may never
// be requested by an isolated listener.
const DefaultGatewayPort = 10000

// Listener is a bind point. OwnerTeam is empty for the shared gateway
// listener (it has no single owner).
type Listener struct {
	Name             string
	BindAddress      string
	Port             uint32
	Protocol         string
	RouteConfigName  string
	OwnerTeam        string
	Isolated         bool
}

// TokenStatus is the lifecycle state of a Token. Terminal states
// (Revoked, Expired) are absorbing: once reached, a token never
// transitions again.
type TokenStatus string

const (
	TokenActive  TokenStatus = "active"
	TokenRevoked TokenStatus = "revoked"
	TokenExpired TokenStatus = "expired"
)

// Scope is a resource:action permission unit, e.g. "routes:write".
type Scope string

const (
	ScopeClustersRead  Scope = "clusters:read"
	ScopeClustersWrite Scope = "clusters:write"
	ScopeRoutesRead    Scope = "routes:read"
	ScopeRoutesWrite   Scope = "routes:write"
	ScopeListenersRead Scope = "listeners:read"
	ScopeListenersWrite Scope = "listeners:write"
	ScopeTokensRead    Scope = "tokens:read"
	ScopeTokensWrite   Scope = "tokens:write"
	ScopeAdminRead     Scope = "admin:read"
	ScopeAdminWrite    Scope = "admin:write"
)

// Token is a personal access token. PlaintextHash is the Argon2id hash
// of the secret; the plaintext itself is never persisted.
type Token struct {
	ID            string
	Name          string
	PlaintextHash string
	Scopes        []Scope
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	LastUsedAt    *time.Time
	Status        TokenStatus
	CreatedBy     string
}

// AuditEvent is an append-only record of a mutation.
type AuditEvent struct {
	ID            string
	Kind          string
	Actor         string
	CorrelationID string
	ResourceRef   string
	PayloadDigest string
	Timestamp     time.Time
}
