package envoyresource

import (
	"testing"

	envoy_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowplane/flowplane/internal/types"
)

func TestClusterBuildsStrictDNSWithInlineEndpoints(t *testing.T) {
	c := Cluster(&types.Cluster{Name: "payments-backend", Endpoints: []string{"payments.svc:8443"}})

	assert.Equal(t, "payments-backend", c.Name)
	require.Len(t, c.LoadAssignment.Endpoints, 1)
	require.Len(t, c.LoadAssignment.Endpoints[0].LbEndpoints, 1)

	addr := c.LoadAssignment.Endpoints[0].LbEndpoints[0].GetEndpoint().GetAddress().GetSocketAddress()
	assert.Equal(t, "payments.svc", addr.Address)
	assert.Equal(t, uint32(8443), addr.GetPortValue())
}

func TestRouteConfigurationBuildsSingleClusterAction(t *testing.T) {
	rc := RouteConfiguration(&types.RouteConfiguration{
		Name: "team-payments-routes",
		VirtualHosts: []*types.VirtualHost{{
			Name:    "payments.flowplane.dev",
			Domains: []string{"payments.flowplane.dev"},
			Routes: []*types.ApiRoute{{
				Match:          types.RouteMatch{Kind: types.MatchPrefix, Value: "/api/v1/"},
				Upstream:       &types.Upstream{Name: "payments-backend"},
				TimeoutSeconds: 15,
			}},
		}},
	})

	require.Len(t, rc.VirtualHosts, 1)
	require.Len(t, rc.VirtualHosts[0].Routes, 1)
	r := rc.VirtualHosts[0].Routes[0]
	assert.Equal(t, "/api/v1/", r.GetMatch().GetPrefix())
	assert.Equal(t, "payments-backend", r.GetRoute().GetCluster())
	assert.Equal(t, int64(15), r.GetRoute().GetTimeout().GetSeconds())
}

func TestRouteConfigurationBuildsWeightedClusters(t *testing.T) {
	rc := RouteConfiguration(&types.RouteConfiguration{
		Name: "team-search-routes",
		VirtualHosts: []*types.VirtualHost{{
			Name: "search.flowplane.dev", Domains: []string{"search.flowplane.dev"},
			Routes: []*types.ApiRoute{{
				Match:           types.RouteMatch{Kind: types.MatchPrefix, Value: "/"},
				WeightedTargets: []types.Upstream{{Name: "search-v1", Weight: 80}, {Name: "search-v2", Weight: 20}},
			}},
		}},
	})

	wc := rc.VirtualHosts[0].Routes[0].GetRoute().GetWeightedClusters()
	require.NotNil(t, wc)
	assert.Equal(t, uint32(100), wc.GetTotalWeight().GetValue())

	var gotV1, gotV2 bool
	for _, c := range wc.Clusters {
		switch c.Name {
		case "search-v1":
			gotV1 = c.GetWeight().GetValue() == 80
		case "search-v2":
			gotV2 = c.GetWeight().GetValue() == 20
		}
	}
	assert.True(t, gotV1)
	assert.True(t, gotV2)
}

func TestListenerWiresRdsToNamedRouteConfiguration(t *testing.T) {
	l := Listener(&types.Listener{
		Name: "team-payments", BindAddress: "0.0.0.0", Port: 10001, RouteConfigName: "team-payments-routes",
	})

	assert.Equal(t, "team-payments", l.Name)
	assert.Equal(t, uint32(10001), l.GetAddress().GetSocketAddress().GetPortValue())
	require.Len(t, l.FilterChains, 1)
	require.Len(t, l.FilterChains[0].Filters, 1)
	assert.Equal(t, httpConnectionManagerFilterName, l.FilterChains[0].Filters[0].Name)
}

func TestRouteMatchKindsMapToDistinctPathSpecifiers(t *testing.T) {
	exact := routeMatch(types.RouteMatch{Kind: types.MatchExact, Value: "/health"})
	_, ok := exact.PathSpecifier.(*envoy_route_v3.RouteMatch_Path)
	assert.True(t, ok)

	regex := routeMatch(types.RouteMatch{Kind: types.MatchRegex, Value: "^/v[0-9]+/"})
	_, ok = regex.PathSpecifier.(*envoy_route_v3.RouteMatch_SafeRegex)
	assert.True(t, ok)
}

func TestClusterNameIsLowercasedAndJoinsTeamAndService(t *testing.T) {
	assert.Equal(t, "payments-backend", ClusterName("Payments", "Backend"))
}
