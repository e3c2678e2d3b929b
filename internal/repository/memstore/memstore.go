// Package memstore is the in-process reference implementation of
// repository.Repository: a mutex-serialized map store with a
// per-definition revision counter and an idempotency table for Commit.
// Commit increments the revision but never compares it against the
// caller's, so a stale write is applied rather than rejected. It exists so the Repository contract (spec.md §4.2) has one
// concrete, testable shape; picking a real SQL engine is out of scope
// for this core (spec.md §1).
package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flowplane/flowplane/internal/apperr"
	"github.com/flowplane/flowplane/internal/repository"
	"github.com/flowplane/flowplane/internal/types"
)

// Store is the in-memory Repository.
type Store struct {
	mu sync.Mutex

	definitions  map[string]*types.ApiDefinition
	byTeamDomain map[string]string // "team/domain" -> definition id
	routes       map[string]*types.ApiRoute
	clusters     map[string]*types.Cluster
	routeConfigs map[string]*types.RouteConfiguration
	listeners    map[string]*types.Listener
	listenerByAddr map[string]string // "addr:port" -> listener name
	tokens       map[string]*types.Token
	audit        []types.AuditEvent

	idempotency *lru.Cache[string, bool]
	events      chan repository.Event
}

// New returns an empty Store.
func New() *Store {
	idem, _ := lru.New[string, bool](4096)
	return &Store{
		definitions:    make(map[string]*types.ApiDefinition),
		byTeamDomain:   make(map[string]string),
		routes:         make(map[string]*types.ApiRoute),
		clusters:       make(map[string]*types.Cluster),
		routeConfigs:   make(map[string]*types.RouteConfiguration),
		listeners:      make(map[string]*types.Listener),
		listenerByAddr: make(map[string]string),
		tokens:         make(map[string]*types.Token),
		idempotency:    idem,
		events:         make(chan repository.Event, 64),
	}
}

func teamDomainKey(team, domain string) string { return team + "/" + domain }
func addrKey(bindAddress string, port uint32) string {
	return bindAddress + ":" + strconv.FormatUint(uint64(port), 10)
}

// Commit applies a MaterializedWrite as a single logical transaction:
// every field is applied under one lock, so a reader never observes a
// partially-applied write.
func (s *Store) Commit(_ context.Context, w repository.MaterializedWrite) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.OperationID != "" {
		if _, seen := s.idempotency.Get(w.OperationID); seen {
			return false, nil
		}
	}

	if w.Definition != nil {
		w.Definition.Revision++
		w.Definition.UpdatedAt = time.Now()
		s.definitions[w.Definition.ID] = w.Definition
		s.byTeamDomain[teamDomainKey(w.Definition.Team, w.Definition.Domain)] = w.Definition.ID
	}

	for _, r := range w.UpsertRoutes {
		s.routes[r.ID] = r
	}
	for _, id := range w.DeleteRouteIDs {
		delete(s.routes, id)
	}

	for _, c := range w.UpsertClusters {
		s.clusters[c.Name] = c
	}
	for _, name := range w.DeleteClusterNames {
		delete(s.clusters, name)
	}

	for _, rc := range w.UpsertRouteConfigs {
		s.routeConfigs[rc.Name] = rc
	}

	for _, l := range w.UpsertListeners {
		s.listeners[l.Name] = l
		s.listenerByAddr[addrKey(l.BindAddress, l.Port)] = l.Name
	}
	for _, name := range w.DeleteListenerNames {
		if l, ok := s.listeners[name]; ok {
			delete(s.listenerByAddr, addrKey(l.BindAddress, l.Port))
		}
		delete(s.listeners, name)
	}

	if w.DeleteDefinition && w.Definition != nil {
		delete(s.definitions, w.Definition.ID)
		delete(s.byTeamDomain, teamDomainKey(w.Definition.Team, w.Definition.Domain))
	}

	if w.Audit != nil {
		s.audit = append(s.audit, *w.Audit)
	}

	if w.OperationID != "" {
		s.idempotency.Add(w.OperationID, true)
	}

	return true, nil
}

func (s *Store) GetDefinition(_ context.Context, id string) (*types.ApiDefinition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.definitions[id]
	return d, ok, nil
}

func (s *Store) FindDefinitionByTeamDomain(_ context.Context, team, domain string) (*types.ApiDefinition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTeamDomain[teamDomainKey(team, domain)]
	if !ok {
		return nil, false, nil
	}
	d := s.definitions[id]
	return d, d != nil, nil
}

func (s *Store) ListActive(_ context.Context) (repository.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap repository.Snapshot
	for _, d := range s.definitions {
		snap.Definitions = append(snap.Definitions, *d)
	}
	for _, r := range s.routes {
		snap.Routes = append(snap.Routes, *r)
	}
	for _, c := range s.clusters {
		snap.Clusters = append(snap.Clusters, *c)
	}
	for _, rc := range s.routeConfigs {
		snap.RouteConfigs = append(snap.RouteConfigs, *rc)
	}
	for _, l := range s.listeners {
		snap.Listeners = append(snap.Listeners, *l)
	}
	return snap, nil
}

func (s *Store) GetListenerByAddr(_ context.Context, bindAddress string, port uint32) (*types.Listener, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.listenerByAddr[addrKey(bindAddress, port)]
	if !ok {
		return nil, false, nil
	}
	l := s.listeners[name]
	return l, l != nil, nil
}

func (s *Store) GetListenerByName(_ context.Context, name string) (*types.Listener, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listeners[name]
	return l, ok, nil
}

func (s *Store) GetCluster(_ context.Context, name string) (*types.Cluster, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clusters[name]
	return c, ok, nil
}

func (s *Store) RouteConfiguration(_ context.Context, name string) (*types.RouteConfiguration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.routeConfigs[name]
	return rc, ok, nil
}

func (s *Store) RecordAudit(_ context.Context, ev types.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, ev)
	return nil
}

func (s *Store) CreateToken(_ context.Context, t types.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[t.ID]; exists {
		return apperr.Conflictf("token %s already exists", t.ID)
	}
	s.tokens[t.ID] = &t
	return nil
}

func (s *Store) GetTokenByID(_ context.Context, id string) (*types.Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	return t, ok, nil
}

// UpdateTokenStatus enforces the absorbing-terminal-state invariant:
// active -> revoked and active -> expired are the only legal
// transitions; revoked/expired never change again.
func (s *Store) UpdateTokenStatus(_ context.Context, id string, status types.TokenStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return apperr.NotFoundf("token %s not found", id)
	}
	if t.Status != types.TokenActive {
		return nil // terminal states are absorbing
	}
	t.Status = status
	s.mu.Unlock()
	s.broadcastTokenEvent(status, id)
	s.mu.Lock()
	return nil
}

func (s *Store) broadcastTokenEvent(status types.TokenStatus, id string) {
	kind := repository.TokenRevokedEvent
	if status == types.TokenExpired {
		kind = repository.TokenRotatedEvent
	}
	select {
	case s.events <- repository.Event{Kind: kind, TokenID: id}:
	default:
	}
}

func (s *Store) TouchTokenLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return apperr.NotFoundf("token %s not found", id)
	}
	t.LastUsedAt = &at
	return nil
}

func (s *Store) ListTokens(_ context.Context) ([]types.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, *t)
	}
	return out, nil
}

func (s *Store) Events() <-chan repository.Event {
	return s.events
}

// IdempotencyTableLen reports the current number of OperationIDs held
// in the dedup table. The table is a fixed-size LRU (self-evicting, no
// TTL): this exists so a periodic janitor has something honest to
// observe rather than pretending to evict entries the LRU already
// manages on its own.
func (s *Store) IdempotencyTableLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idempotency.Len()
}
