package materializer

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/internal/apperr"
	"github.com/flowplane/flowplane/internal/bootstrap"
	"github.com/flowplane/flowplane/internal/cache"
	"github.com/flowplane/flowplane/internal/clock"
	"github.com/flowplane/flowplane/internal/repository/memstore"
	"github.com/flowplane/flowplane/internal/types"
	"github.com/flowplane/flowplane/internal/validate"
)

func newTestMaterializer(t *testing.T) (*Materializer, *memstore.Store, *cache.Cache) {
	t.Helper()
	repo := memstore.New()
	resources := cache.New()
	artifacts := bootstrap.NewArtifactStore()
	log := logrus.New()
	log.SetOutput(io.Discard)
	m := New(repo, resources, artifacts, clock.New(), log, "10.0.0.1:18000")
	return m, repo, resources
}

func simpleRequest(team, domain string) validate.CreateDefinitionRequest {
	return validate.CreateDefinitionRequest{
		Team:   team,
		Domain: domain,
		Routes: []validate.RouteRequest{{
			Match:          types.RouteMatch{Kind: types.MatchPrefix, Value: "/api/v1/"},
			Upstream:       &types.Upstream{Name: "payments-backend", Endpoint: "payments.svc:8443"},
			TimeoutSeconds: 15,
		}},
	}
}

func TestCreateDefinitionMergesIntoSharedGateway(t *testing.T) {
	m, repo, resources := newTestMaterializer(t)

	def, err := m.CreateDefinition(context.Background(), "alice", "corr-1", "op-1", simpleRequest("payments", "payments.flowplane.dev"))
	require.NoError(t, err)
	assert.NotEmpty(t, def.ID)
	assert.NotEmpty(t, def.BootstrapURI)

	rc, found, err := repo.RouteConfiguration(context.Background(), types.SharedRouteConfigurationName)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, rc.VirtualHosts, 1)

	cl, found, err := repo.GetCluster(context.Background(), "payments-backend")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, cl.RefCount)

	clusters := resources.Snapshot(cache.ClusterType)
	require.Len(t, clusters, 1)
	routeConfigs := resources.Snapshot(cache.RouteConfigurationType)
	require.Len(t, routeConfigs, 1)
}

func TestCreateDefinitionRejectsDuplicateTeamDomain(t *testing.T) {
	m, _, _ := newTestMaterializer(t)
	ctx := context.Background()

	_, err := m.CreateDefinition(ctx, "alice", "corr-1", "op-1", simpleRequest("payments", "payments.flowplane.dev"))
	require.NoError(t, err)

	_, err = m.CreateDefinition(ctx, "alice", "corr-2", "op-2", simpleRequest("payments", "payments.flowplane.dev"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Conflict))
}

func TestCreateDefinitionWithIsolatedListenerRejectsPortCollision(t *testing.T) {
	m, _, _ := newTestMaterializer(t)
	ctx := context.Background()

	req1 := simpleRequest("payments", "payments.flowplane.dev")
	req1.ListenerIsolation = true
	req1.Listener = &types.ListenerIntent{Name: "team-payments", BindAddress: "0.0.0.0", Port: 10001, Protocol: "HTTP"}
	_, err := m.CreateDefinition(ctx, "alice", "corr-1", "op-1", req1)
	require.NoError(t, err)

	req2 := simpleRequest("search", "search.flowplane.dev")
	req2.ListenerIsolation = true
	req2.Listener = &types.ListenerIntent{Name: "team-search", BindAddress: "0.0.0.0", Port: 10001, Protocol: "HTTP"}
	_, err = m.CreateDefinition(ctx, "bob", "corr-2", "op-2", req2)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Conflict))
}

func TestCreateDefinitionReusesListenerWithMatchingCoordinates(t *testing.T) {
	m, _, resources := newTestMaterializer(t)
	ctx := context.Background()

	req1 := simpleRequest("payments", "payments.flowplane.dev")
	req1.ListenerIsolation = true
	req1.Listener = &types.ListenerIntent{Name: "team-payments", BindAddress: "0.0.0.0", Port: 10001, Protocol: "HTTP"}
	_, err := m.CreateDefinition(ctx, "alice", "corr-1", "op-1", req1)
	require.NoError(t, err)

	req2 := simpleRequest("payments", "payments-v2.flowplane.dev")
	req2.Routes[0].Upstream.Name = "payments-v2-backend"
	req2.ListenerIsolation = true
	req2.Listener = &types.ListenerIntent{Name: "team-payments", BindAddress: "0.0.0.0", Port: 10001, Protocol: "HTTP"}
	_, err = m.CreateDefinition(ctx, "alice", "corr-2", "op-2", req2)
	require.NoError(t, err)

	listeners := resources.Snapshot(cache.ListenerType)
	assert.Len(t, listeners, 1, "reusing a listener must not create a second Listener resource")
}

func TestAppendRouteRejectsDuplicateMatchOnSameDomain(t *testing.T) {
	m, _, _ := newTestMaterializer(t)
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, "alice", "corr-1", "op-1", simpleRequest("payments", "payments.flowplane.dev"))
	require.NoError(t, err)

	_, err = m.AppendRoute(ctx, "alice", "corr-2", def.ID, "op-2", validate.RouteRequest{
		Match:    types.RouteMatch{Kind: types.MatchPrefix, Value: "/api/v1/"},
		Upstream: &types.Upstream{Name: "payments-backend", Endpoint: "payments.svc:8443"},
		TimeoutSeconds: 15,
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Conflict))
}

func TestDeleteDefinitionDecrementsSharedClusterRefCountWithoutDeletingIt(t *testing.T) {
	m, repo, _ := newTestMaterializer(t)
	ctx := context.Background()

	defA, err := m.CreateDefinition(ctx, "alice", "corr-1", "op-1", simpleRequest("payments", "a.flowplane.dev"))
	require.NoError(t, err)

	reqB := simpleRequest("payments", "b.flowplane.dev")
	_, err = m.CreateDefinition(ctx, "alice", "corr-2", "op-2", reqB)
	require.NoError(t, err)

	require.NoError(t, m.DeleteDefinition(ctx, "alice", "corr-3", defA.ID))

	cl, found, err := repo.GetCluster(ctx, "payments-backend")
	require.NoError(t, err)
	require.True(t, found, "cluster must survive while a second definition still references it")
	assert.Equal(t, 1, cl.RefCount)
}

func TestDeleteDefinitionRemovesClusterOnceRefCountReachesZero(t *testing.T) {
	m, repo, resources := newTestMaterializer(t)
	ctx := context.Background()

	def, err := m.CreateDefinition(ctx, "alice", "corr-1", "op-1", simpleRequest("payments", "a.flowplane.dev"))
	require.NoError(t, err)

	require.NoError(t, m.DeleteDefinition(ctx, "alice", "corr-2", def.ID))

	_, found, err := repo.GetCluster(ctx, "payments-backend")
	require.NoError(t, err)
	assert.False(t, found)

	clusters := resources.Snapshot(cache.ClusterType)
	assert.Len(t, clusters, 0)
}
