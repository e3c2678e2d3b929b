// Package materializer implements the three Platform API operations
// that turn user intent into the canonical xDS resource set:
// CreateDefinition, AppendRoute, and DeleteDefinition. It owns listener
// placement (spec.md §4.5.1), Cluster reference counting (SPEC_FULL.md
// §3), and the Prepare -> Commit -> Publish atomicity discipline
// (spec.md §4.5.2). Grounded on xdscache/v3's "compute, then publish"
// structure, generalized from a DAG recompute to direct record
// synthesis since there is no DAG in this domain.
package materializer

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/flowplane/flowplane/internal/apperr"
	"github.com/flowplane/flowplane/internal/audit"
	"github.com/flowplane/flowplane/internal/bootstrap"
	"github.com/flowplane/flowplane/internal/cache"
	"github.com/flowplane/flowplane/internal/clock"
	"github.com/flowplane/flowplane/internal/envoyresource"
	"github.com/flowplane/flowplane/internal/repository"
	"github.com/flowplane/flowplane/internal/types"
	"github.com/flowplane/flowplane/internal/validate"
)

// Materializer is the concrete implementation of spec.md §4.5.
type Materializer struct {
	repo      repository.Repository
	resources *cache.Cache
	artifacts *bootstrap.ArtifactStore
	audit     *audit.Recorder
	clock     clock.Clock
	log       logrus.FieldLogger

	advertiseAddress string
}

// New constructs a Materializer.
func New(repo repository.Repository, resources *cache.Cache, artifacts *bootstrap.ArtifactStore, clk clock.Clock, log logrus.FieldLogger, advertiseAddress string) *Materializer {
	return &Materializer{
		repo:             repo,
		resources:        resources,
		artifacts:        artifacts,
		audit:            audit.New(clk),
		clock:            clk,
		log:              log,
		advertiseAddress: advertiseAddress,
	}
}

// CreateDefinition implements spec.md §4.5's create_definition.
// operationID is the caller-supplied idempotency key (spec.md §4.2: every
// mutating operation is idempotent given one); a retried call with the
// same operationID is a no-op rather than a duplicate definition.
func (m *Materializer) CreateDefinition(ctx context.Context, actor, correlationID, operationID string, req validate.CreateDefinitionRequest) (*types.ApiDefinition, error) {
	if verr := validate.CreateDefinition(req); verr != nil {
		return nil, verr
	}

	if existing, found, err := m.repo.FindDefinitionByTeamDomain(ctx, req.Team, req.Domain); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "looking up existing definition")
	} else if found {
		return nil, apperr.Conflictf("definition already exists for team %q domain %q", req.Team, req.Domain)
	}

	defId := uuid.NewString()

	listener, routeConfigName, err := m.resolvePlacement(ctx, req)
	if err != nil {
		return nil, err
	}

	rc, rcFound, err := m.repo.RouteConfiguration(ctx, routeConfigName)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "loading route configuration")
	}
	if rcFound {
		if err := domainUnique(rc, req.Domain); err != nil {
			return nil, err
		}
	} else {
		rc = &types.RouteConfiguration{Name: routeConfigName}
	}

	now := m.clock.Now()
	def := &types.ApiDefinition{
		ID:                defId,
		Team:              req.Team,
		Domain:            req.Domain,
		ListenerIsolation: req.ListenerIsolation,
		Listener:          req.Listener,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	vh := &types.VirtualHost{Name: req.Domain, Domains: []string{req.Domain}}
	var upsertClusters []*types.Cluster
	var upsertRoutes []*types.ApiRoute
	clusterDelta := map[string]int{}

	for _, rr := range req.Routes {
		route := &types.ApiRoute{
			ID:              uuid.NewString(),
			ApiDefinitionID: defId,
			Match:           rr.Match,
			Rewrite:         rr.Rewrite,
			Upstream:        rr.Upstream,
			WeightedTargets: rr.WeightedTargets,
			TimeoutSeconds:  rr.TimeoutSeconds,
			Override:        rr.Override,
			DeploymentNote:  rr.DeploymentNote,
		}
		vh.Routes = append(vh.Routes, route)
		upsertRoutes = append(upsertRoutes, route)

		for _, name := range upstreamClusterNames(rr) {
			clusterDelta[name]++
		}
	}
	rc.VirtualHosts = append(rc.VirtualHosts, vh)

	for name, delta := range clusterDelta {
		cl, found, err := m.repo.GetCluster(ctx, name)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.Internal, "loading cluster")
		}
		if !found {
			cl = &types.Cluster{Name: name, Endpoints: endpointsFor(req.Routes, name), LBPolicy: "round_robin"}
		}
		cl.RefCount += delta
		upsertClusters = append(upsertClusters, cl)
	}

	var upsertListeners []*types.Listener
	if listener != nil {
		upsertListeners = append(upsertListeners, listener)
	}

	bootstrapURI, err := m.artifacts.Stage(bootstrap.Options{
		NodeID:           defId,
		AdvertiseAddress: m.advertiseAddress,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "staging bootstrap artifact")
	}
	def.BootstrapURI = bootstrapURI

	auditEvent := m.audit.Record("api_definition.created", actor, correlationID, def.ID, def)

	var opID string
	if operationID != "" {
		opID = "create-definition:" + operationID
	}
	applied, err := m.repo.Commit(ctx, repository.MaterializedWrite{
		OperationID:        opID,
		Definition:         def,
		UpsertRoutes:       upsertRoutes,
		UpsertClusters:     upsertClusters,
		UpsertRouteConfigs: []*types.RouteConfiguration{rc},
		UpsertListeners:    upsertListeners,
		Audit:              &auditEvent,
	})
	if err != nil {
		m.artifacts.Remove(bootstrapURI)
		return nil, apperr.Wrap(err, apperr.Internal, "committing definition")
	}
	if !applied {
		return nil, apperr.Conflictf("definition commit %q already applied", opID)
	}

	if err := m.publish(rc, upsertClusters, upsertListeners); err != nil {
		m.log.WithError(err).Warn("publish to resource cache failed; repository commit stands, cache left unchanged")
	}

	return def, nil
}

// AppendRoute implements spec.md §4.5's append_route. operationID is the
// caller-supplied idempotency key (spec.md §4.2); a retried call with the
// same operationID is a no-op rather than a duplicate route.
func (m *Materializer) AppendRoute(ctx context.Context, actor, correlationID, definitionID, operationID string, rr validate.RouteRequest) (*types.ApiRoute, error) {
	if verr := validate.AppendRoute(rr); verr != nil {
		return nil, verr
	}

	def, found, err := m.repo.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "loading definition")
	}
	if !found {
		return nil, apperr.NotFoundf("definition %q not found", definitionID)
	}

	routeConfigName := types.SharedRouteConfigurationName
	if def.ListenerIsolation && def.Listener != nil {
		routeConfigName = def.Listener.Name + "-routes"
	}
	rc, rcFound, err := m.repo.RouteConfiguration(ctx, routeConfigName)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "loading route configuration")
	}
	if !rcFound {
		return nil, apperr.NotFoundf("route configuration %q not found", routeConfigName)
	}

	vh := findVirtualHost(rc, def.Domain)
	if vh == nil {
		return nil, apperr.NotFoundf("virtual host for domain %q not found in %q", def.Domain, routeConfigName)
	}
	if err := matchUnique(vh, rr.Match); err != nil {
		return nil, err
	}

	route := &types.ApiRoute{
		ID:              uuid.NewString(),
		ApiDefinitionID: definitionID,
		Match:           rr.Match,
		Rewrite:         rr.Rewrite,
		Upstream:        rr.Upstream,
		WeightedTargets: rr.WeightedTargets,
		TimeoutSeconds:  rr.TimeoutSeconds,
		Override:        rr.Override,
		DeploymentNote:  rr.DeploymentNote,
	}
	vh.Routes = append(vh.Routes, route)

	var upsertClusters []*types.Cluster
	for _, name := range upstreamClusterNames(rr) {
		cl, found, err := m.repo.GetCluster(ctx, name)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.Internal, "loading cluster")
		}
		if !found {
			cl = &types.Cluster{Name: name, Endpoints: endpointsFor([]validate.RouteRequest{rr}, name), LBPolicy: "round_robin"}
		}
		cl.RefCount++
		upsertClusters = append(upsertClusters, cl)
	}

	auditEvent := m.audit.Record("api_route.appended", actor, correlationID, route.ID, route)

	var opID string
	if operationID != "" {
		opID = "append-route:" + operationID
	}
	applied, err := m.repo.Commit(ctx, repository.MaterializedWrite{
		OperationID:        opID,
		Definition:         def,
		UpsertRoutes:       []*types.ApiRoute{route},
		UpsertClusters:     upsertClusters,
		UpsertRouteConfigs: []*types.RouteConfiguration{rc},
		Audit:              &auditEvent,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "committing route")
	}
	if !applied {
		return nil, apperr.Conflictf("route commit already applied")
	}

	if err := m.publish(rc, upsertClusters, nil); err != nil {
		m.log.WithError(err).Warn("publish to resource cache failed; repository commit stands, cache left unchanged")
	}

	return route, nil
}

// DeleteDefinition implements spec.md §4.5's delete_definition.
func (m *Materializer) DeleteDefinition(ctx context.Context, actor, correlationID, definitionID string) error {
	def, found, err := m.repo.GetDefinition(ctx, definitionID)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "loading definition")
	}
	if !found {
		return apperr.NotFoundf("definition %q not found", definitionID)
	}

	routeConfigName := types.SharedRouteConfigurationName
	if def.ListenerIsolation && def.Listener != nil {
		routeConfigName = def.Listener.Name + "-routes"
	}
	rc, rcFound, err := m.repo.RouteConfiguration(ctx, routeConfigName)
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "loading route configuration")
	}

	var deleteRouteIDs []string
	clusterDelta := map[string]int{}
	if rcFound {
		remaining := rc.VirtualHosts[:0]
		for _, vh := range rc.VirtualHosts {
			if vh.Domains[0] == def.Domain {
				for _, r := range vh.Routes {
					deleteRouteIDs = append(deleteRouteIDs, r.ID)
					for _, name := range referencedClusterNames(r) {
						clusterDelta[name]--
					}
				}
				continue
			}
			remaining = append(remaining, vh)
		}
		rc.VirtualHosts = remaining
	}

	var deleteClusterNames []string
	var upsertClusters []*types.Cluster
	for name, delta := range clusterDelta {
		cl, found, err := m.repo.GetCluster(ctx, name)
		if err != nil {
			return apperr.Wrap(err, apperr.Internal, "loading cluster")
		}
		if !found {
			continue
		}
		cl.RefCount += delta
		if cl.RefCount <= 0 {
			deleteClusterNames = append(deleteClusterNames, name)
		} else {
			upsertClusters = append(upsertClusters, cl)
		}
	}

	var deleteListenerNames []string
	if def.ListenerIsolation && def.Listener != nil && len(rc.VirtualHosts) == 0 {
		deleteListenerNames = append(deleteListenerNames, def.Listener.Name)
	}

	auditEvent := m.audit.Record("api_definition.deleted", actor, correlationID, def.ID, nil)

	applied, err := m.repo.Commit(ctx, repository.MaterializedWrite{
		OperationID:         "delete-definition:" + definitionID,
		Definition:          def,
		DeleteDefinition:    true,
		DeleteRouteIDs:      deleteRouteIDs,
		UpsertClusters:      upsertClusters,
		DeleteClusterNames:  deleteClusterNames,
		UpsertRouteConfigs:  []*types.RouteConfiguration{rc},
		DeleteListenerNames: deleteListenerNames,
		Audit:               &auditEvent,
	})
	if err != nil {
		return apperr.Wrap(err, apperr.Internal, "committing deletion")
	}
	if !applied {
		return apperr.Conflictf("delete commit already applied")
	}

	if err := m.publishRemoval(rc, upsertClusters, deleteClusterNames, deleteListenerNames); err != nil {
		m.log.WithError(err).Warn("publish removal to resource cache failed; repository commit stands, cache left unchanged")
	}
	return nil
}

func (m *Materializer) resolvePlacement(ctx context.Context, req validate.CreateDefinitionRequest) (*types.Listener, string, error) {
	if !req.ListenerIsolation {
		return nil, types.SharedRouteConfigurationName, nil
	}

	existing, found, err := m.repo.GetListenerByName(ctx, req.Listener.Name)
	if err != nil {
		return nil, "", apperr.Wrap(err, apperr.Internal, "loading listener")
	}
	if found {
		if existing.BindAddress != req.Listener.BindAddress || existing.Port != req.Listener.Port || existing.Protocol != req.Listener.Protocol {
			return nil, "", apperr.Conflictf("listener %q exists with a different (bind_address, port, protocol)", req.Listener.Name)
		}
		return nil, existing.RouteConfigName, nil
	}

	if atAddr, found, err := m.repo.GetListenerByAddr(ctx, req.Listener.BindAddress, req.Listener.Port); err != nil {
		return nil, "", apperr.Wrap(err, apperr.Internal, "checking listener address collision")
	} else if found {
		return nil, "", apperr.Conflictf("(%s, %d) is already bound by listener %q", req.Listener.BindAddress, req.Listener.Port, atAddr.Name)
	}

	routeConfigName := req.Listener.Name + "-routes"
	listener := &types.Listener{
		Name:            req.Listener.Name,
		BindAddress:     req.Listener.BindAddress,
		Port:            req.Listener.Port,
		Protocol:        req.Listener.Protocol,
		RouteConfigName: routeConfigName,
		OwnerTeam:       req.Team,
		Isolated:        true,
	}
	return listener, routeConfigName, nil
}

func domainUnique(rc *types.RouteConfiguration, domain string) error {
	for _, vh := range rc.VirtualHosts {
		for _, d := range vh.Domains {
			if d == domain {
				return apperr.Conflictf("domain %q already routed within %q", domain, rc.Name)
			}
		}
	}
	return nil
}

func findVirtualHost(rc *types.RouteConfiguration, domain string) *types.VirtualHost {
	for _, vh := range rc.VirtualHosts {
		for _, d := range vh.Domains {
			if d == domain {
				return vh
			}
		}
	}
	return nil
}

func matchUnique(vh *types.VirtualHost, m types.RouteMatch) error {
	for _, r := range vh.Routes {
		if r.Match.Kind == m.Kind && r.Match.Value == m.Value {
			return apperr.Conflictf("route match %s:%s already exists on domain %q", m.Kind, m.Value, vh.Domains[0])
		}
	}
	return nil
}

func upstreamClusterNames(rr validate.RouteRequest) []string {
	var names []string
	if rr.Upstream != nil {
		names = append(names, rr.Upstream.Name)
	}
	for _, wt := range rr.WeightedTargets {
		names = append(names, wt.Name)
	}
	return names
}

func referencedClusterNames(r *types.ApiRoute) []string {
	var names []string
	if r.Upstream != nil {
		names = append(names, r.Upstream.Name)
	}
	for _, wt := range r.WeightedTargets {
		names = append(names, wt.Name)
	}
	return names
}

func endpointsFor(routes []validate.RouteRequest, clusterName string) []string {
	for _, rr := range routes {
		if rr.Upstream != nil && rr.Upstream.Name == clusterName {
			return []string{rr.Upstream.Endpoint}
		}
		for _, wt := range rr.WeightedTargets {
			if wt.Name == clusterName {
				return []string{wt.Endpoint}
			}
		}
	}
	return nil
}

// publish pushes the affected RouteConfiguration, Clusters, and
// Listeners into the Resource Cache in CDS -> RDS -> LDS order
// (cache.PushOrder), so a Listener is never observed before the
// RouteConfiguration it names.
func (m *Materializer) publish(rc *types.RouteConfiguration, clusters []*types.Cluster, listeners []*types.Listener) error {
	var changes []cache.Change
	for _, c := range clusters {
		changes = append(changes, cache.Change{Type: cache.ClusterType, Name: c.Name, Payload: envoyresource.Cluster(c)})
	}
	changes = append(changes, cache.Change{Type: cache.RouteConfigurationType, Name: rc.Name, Payload: envoyresource.RouteConfiguration(rc)})
	for _, l := range listeners {
		changes = append(changes, cache.Change{Type: cache.ListenerType, Name: l.Name, Payload: envoyresource.Listener(l)})
	}
	_, err := m.resources.PutMany(changes)
	return err
}

func (m *Materializer) publishRemoval(rc *types.RouteConfiguration, upsertClusters []*types.Cluster, deleteClusterNames, deleteListenerNames []string) error {
	var changes []cache.Change
	for _, c := range upsertClusters {
		changes = append(changes, cache.Change{Type: cache.ClusterType, Name: c.Name, Payload: envoyresource.Cluster(c)})
	}
	for _, name := range deleteClusterNames {
		changes = append(changes, cache.Change{Type: cache.ClusterType, Name: name, Payload: nil})
	}
	changes = append(changes, cache.Change{Type: cache.RouteConfigurationType, Name: rc.Name, Payload: envoyresource.RouteConfiguration(rc)})
	for _, name := range deleteListenerNames {
		changes = append(changes, cache.Change{Type: cache.ListenerType, Name: name, Payload: nil})
	}
	_, err := m.resources.PutMany(changes)
	return err
}
