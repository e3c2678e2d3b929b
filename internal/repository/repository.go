// Package repository defines the durable-store contract the
// Materializer and Token services write through, and ships an
// in-process reference implementation (memstore). The database engine
// itself is an explicit non-goal of this core (spec.md §1): memstore
// exists so the contract — transactional multi-row writes, a revision
// column, idempotent mutations, and startup rehydration — has one
// concrete, testable shape. memstore increments the revision on every
// Commit but does not compare it, so concurrent writers are serialized
// rather than rejected with a conflict. It is grounded on the
// serialize-writes/copy-on-write discipline of the teacher's
// internal/envoy.ClusterCache channel idiom.
package repository

import (
	"context"
	"time"

	"github.com/flowplane/flowplane/internal/types"
)

// MaterializedWrite is everything one logical Materializer mutation
// commits in a single transaction: the updated definitions/routes, the
// derived Envoy-shaped rows, and the audit event. Repository.Commit
// either persists all of it or leaves the store unchanged.
type MaterializedWrite struct {
	// OperationID is a caller-supplied idempotency key: a repeated
	// Commit with the same OperationID is a no-op and reports
	// applied == false.
	OperationID string

	Definition          *types.ApiDefinition
	UpsertRoutes        []*types.ApiRoute
	DeleteRouteIDs      []string
	UpsertClusters      []*types.Cluster
	DeleteClusterNames  []string
	UpsertRouteConfigs  []*types.RouteConfiguration
	UpsertListeners     []*types.Listener
	DeleteListenerNames []string
	DeleteDefinition    bool
	Audit               *types.AuditEvent
}

// Repository is the durable-store contract.
type Repository interface {
	// Commit durably applies a MaterializedWrite. It is idempotent: a
	// second Commit with an OperationID already seen returns
	// (false, nil) without re-applying the write.
	Commit(ctx context.Context, w MaterializedWrite) (applied bool, err error)

	GetDefinition(ctx context.Context, id string) (*types.ApiDefinition, bool, error)
	FindDefinitionByTeamDomain(ctx context.Context, team, domain string) (*types.ApiDefinition, bool, error)
	ListActive(ctx context.Context) (Snapshot, error)

	GetListenerByAddr(ctx context.Context, bindAddress string, port uint32) (*types.Listener, bool, error)
	GetListenerByName(ctx context.Context, name string) (*types.Listener, bool, error)
	GetCluster(ctx context.Context, name string) (*types.Cluster, bool, error)
	RouteConfiguration(ctx context.Context, name string) (*types.RouteConfiguration, bool, error)

	RecordAudit(ctx context.Context, ev types.AuditEvent) error

	// Token CRUD.
	CreateToken(ctx context.Context, t types.Token) error
	GetTokenByID(ctx context.Context, id string) (*types.Token, bool, error)
	UpdateTokenStatus(ctx context.Context, id string, status types.TokenStatus) error
	TouchTokenLastUsed(ctx context.Context, id string, at time.Time) error
	ListTokens(ctx context.Context) ([]types.Token, error)

	// Events broadcasts repository-level changes (token revoke/rotate)
	// so short-lived caches elsewhere (internal/authn's positive-result
	// cache) can invalidate themselves.
	Events() <-chan Event
}

// EventKind distinguishes the repository-level notifications a
// Repository implementation broadcasts.
type EventKind int

const (
	TokenRevokedEvent EventKind = iota
	TokenRotatedEvent
)

// Event is a lightweight notification separate from the Resource
// Cache's ChangeEvent; it exists purely to invalidate short-lived
// caches that sit in front of the Repository (e.g. the token
// positive-result cache).
type Event struct {
	Kind    EventKind
	TokenID string
}

// Snapshot is the bulk read used to prime the Resource Cache at
// startup.
type Snapshot struct {
	Definitions []types.ApiDefinition
	Routes      []types.ApiRoute
	Clusters    []types.Cluster
	RouteConfigs []types.RouteConfiguration
	Listeners   []types.Listener
}
