package sorter

import (
	"math/rand"
	"sort"
	"testing"

	envoy_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoy_endpoint_v3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	envoy_listener_v3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	envoy_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	matcher "github.com/envoyproxy/go-control-plane/envoy/type/matcher/v3"
	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func shuffleSlice[T any](original []T) []T {
	shuffled := make([]T, len(original))
	copy(shuffled, original)
	rand.Shuffle(len(original), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

func TestInvalidSorter(t *testing.T) {
	assert.Equal(t, nil, For([]string{"invalid"}))
}

func TestSortRouteConfiguration(t *testing.T) {
	want := []*envoy_route_v3.RouteConfiguration{
		{Name: "bar"},
		{Name: "baz"},
		{Name: "foo"},
	}

	have := []*envoy_route_v3.RouteConfiguration{want[2], want[1], want[0]}

	sort.Stable(For(have))
	assert.Equal(t, want, have)
}

func TestSortVirtualHosts(t *testing.T) {
	want := []*envoy_route_v3.VirtualHost{
		{Name: "bar"},
		{Name: "baz"},
		{Name: "foo"},
	}

	have := []*envoy_route_v3.VirtualHost{want[2], want[1], want[0]}

	sort.Stable(For(have))
	assert.Equal(t, want, have)
}

func prefixRoute(prefix string) *envoy_route_v3.Route {
	return &envoy_route_v3.Route{
		Match: &envoy_route_v3.RouteMatch{
			PathSpecifier: &envoy_route_v3.RouteMatch_Prefix{Prefix: prefix},
		},
	}
}

func regexRoute(regex string) *envoy_route_v3.Route {
	return &envoy_route_v3.Route{
		Match: &envoy_route_v3.RouteMatch{
			PathSpecifier: &envoy_route_v3.RouteMatch_SafeRegex{SafeRegex: &matcher.RegexMatcher{Regex: regex}},
		},
	}
}

func TestSortRoutesLongestPrefixFirst(t *testing.T) {
	want := []*envoy_route_v3.Route{
		prefixRoute("/path/prefix2"),
		prefixRoute("/path/prefix"),
		prefixRoute("/path"),
	}

	have := shuffleSlice(want)

	sort.Stable(For(have))
	assert.Equal(t, want, have)
}

func TestSortRoutesRegexBeforePrefix(t *testing.T) {
	want := []*envoy_route_v3.Route{
		regexRoute(".*"),
		prefixRoute("/"),
	}

	have := shuffleSlice(want)

	sort.Stable(For(have))
	assert.Equal(t, want, have)
}

func TestSortClusters(t *testing.T) {
	want := []*envoy_cluster_v3.Cluster{
		{Name: "first"},
		{Name: "second"},
	}

	have := shuffleSlice(want)

	sort.Stable(For(have))
	assert.Equal(t, want, have)
}

func TestSortClusterLoadAssignments(t *testing.T) {
	want := []*envoy_endpoint_v3.ClusterLoadAssignment{
		{ClusterName: "first"},
		{ClusterName: "second"},
	}

	have := shuffleSlice(want)

	sort.Stable(For(have))
	assert.Equal(t, want, have)
}

func TestSortHTTPWeightedClusters(t *testing.T) {
	want := []*envoy_route_v3.WeightedCluster_ClusterWeight{
		{Name: "first", Weight: wrapperspb.UInt32(10)},
		{Name: "second", Weight: wrapperspb.UInt32(10)},
		{Name: "second", Weight: wrapperspb.UInt32(20)},
	}

	have := shuffleSlice(want)

	sort.Stable(For(have))
	assert.Equal(t, want, have)
}

func TestSortListeners(t *testing.T) {
	want := []*envoy_listener_v3.Listener{
		{Name: "first"},
		{Name: "second"},
	}

	have := shuffleSlice(want)

	sort.Stable(For(have))
	assert.Equal(t, want, have)
}
