package envoyresource

import (
	"sort"
	"time"

	envoy_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	matcher "github.com/envoyproxy/go-control-plane/envoy/type/matcher/v3"

	"github.com/flowplane/flowplane/internal/protobuf"
	"github.com/flowplane/flowplane/internal/sorter"
	"github.com/flowplane/flowplane/internal/types"
)

// RouteConfiguration builds an envoy_route_v3.RouteConfiguration from a
// domain RouteConfiguration. Virtual hosts and routes are ordered
// deterministically (sorter.For) so that two builds from identical
// input hash identically in the Resource Cache.
func RouteConfiguration(rc *types.RouteConfiguration) *envoy_route_v3.RouteConfiguration {
	out := &envoy_route_v3.RouteConfiguration{
		Name: rc.Name,
	}
	for _, vh := range rc.VirtualHosts {
		out.VirtualHosts = append(out.VirtualHosts, virtualHost(vh))
	}
	sort.Stable(sorter.For(out.VirtualHosts))
	return out
}

func virtualHost(vh *types.VirtualHost) *envoy_route_v3.VirtualHost {
	out := &envoy_route_v3.VirtualHost{
		Name:    vh.Name,
		Domains: vh.Domains,
	}
	for _, r := range vh.Routes {
		out.Routes = append(out.Routes, route(r))
	}
	sort.Stable(sorter.For(out.Routes))
	return out
}

func route(r *types.ApiRoute) *envoy_route_v3.Route {
	out := &envoy_route_v3.Route{
		Match:  routeMatch(r.Match),
		Action: &envoy_route_v3.Route_Route{Route: routeAction(r)},
	}
	return out
}

func routeMatch(m types.RouteMatch) *envoy_route_v3.RouteMatch {
	rm := &envoy_route_v3.RouteMatch{}
	switch m.Kind {
	case types.MatchExact:
		rm.PathSpecifier = &envoy_route_v3.RouteMatch_Path{Path: m.Value}
	case types.MatchTemplate:
		rm.PathSpecifier = &envoy_route_v3.RouteMatch_PathSeparatedPrefix{PathSeparatedPrefix: m.Value}
	case types.MatchRegex:
		rm.PathSpecifier = &envoy_route_v3.RouteMatch_SafeRegex{
			SafeRegex: &matcher.RegexMatcher{Regex: m.Value},
		}
	default: // types.MatchPrefix
		rm.PathSpecifier = &envoy_route_v3.RouteMatch_Prefix{Prefix: m.Value}
	}
	return rm
}

func routeAction(r *types.ApiRoute) *envoy_route_v3.RouteAction {
	action := &envoy_route_v3.RouteAction{}

	switch {
	case len(r.WeightedTargets) > 0:
		action.ClusterSpecifier = weightedClusters(r.WeightedTargets)
	case r.Upstream != nil:
		action.ClusterSpecifier = &envoy_route_v3.RouteAction_Cluster{Cluster: r.Upstream.Name}
	}

	if r.Rewrite != "" {
		action.PrefixRewrite = r.Rewrite
	}
	if r.TimeoutSeconds > 0 {
		action.Timeout = protobuf.Duration(time.Duration(r.TimeoutSeconds) * time.Second)
	}
	return action
}

func weightedClusters(targets []types.Upstream) *envoy_route_v3.RouteAction_WeightedClusters {
	var total uint32
	clusters := make([]*envoy_route_v3.WeightedCluster_ClusterWeight, 0, len(targets))
	for _, t := range targets {
		total += t.Weight
		clusters = append(clusters, &envoy_route_v3.WeightedCluster_ClusterWeight{
			Name:   t.Name,
			Weight: protobuf.UInt32(t.Weight),
		})
	}
	sort.Stable(sorter.For(clusters))
	return &envoy_route_v3.RouteAction_WeightedClusters{
		WeightedClusters: &envoy_route_v3.WeightedCluster{
			Clusters:    clusters,
			TotalWeight: protobuf.UInt32(total),
		},
	}
}
