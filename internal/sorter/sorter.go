// Package sorter orders the Envoy v3 resources internal/envoyresource
// builds so that two builds from identical domain input always produce
// byte-identical output, which is what gives the Resource Cache's
// content hash (internal/cache's contentHash) its "identical content ->
// no version churn" guarantee. Trimmed from the teacher's
// internal/sorter/sorter.go to the resource kinds this domain actually
// builds: no TLS secrets, TCP proxy, or SNI filter chains.
package sorter

import (
	"sort"
	"strings"

	envoy_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoy_endpoint_v3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	envoy_listener_v3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	envoy_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
)

// Sorts the given route configuration values by name.
type routeConfigurationSorter []*envoy_route_v3.RouteConfiguration

func (s routeConfigurationSorter) Len() int           { return len(s) }
func (s routeConfigurationSorter) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s routeConfigurationSorter) Less(i, j int) bool { return s[i].Name < s[j].Name }

// Sorts the given host values by name.
type virtualHostSorter []*envoy_route_v3.VirtualHost

func (s virtualHostSorter) Len() int           { return len(s) }
func (s virtualHostSorter) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s virtualHostSorter) Less(i, j int) bool { return s[i].Name < s[j].Name }

// Sorts the given Route slice in place. Regex routes come before prefix
// routes, and routes of the same match kind are in reverse lexicographic
// order, which puts every prefix after the longer values that extend it,
// since Envoy matches routes in listed order rather than by specificity.
type routeSorter []*envoy_route_v3.Route

func (s routeSorter) Len() int      { return len(s) }
func (s routeSorter) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s routeSorter) Less(i, j int) bool {
	switch a := s[i].Match.PathSpecifier.(type) {
	case *envoy_route_v3.RouteMatch_Prefix:
		if b, ok := s[j].Match.PathSpecifier.(*envoy_route_v3.RouteMatch_Prefix); ok {
			return strings.Compare(a.Prefix, b.Prefix) > 0
		}
	case *envoy_route_v3.RouteMatch_SafeRegex:
		switch b := s[j].Match.PathSpecifier.(type) {
		case *envoy_route_v3.RouteMatch_SafeRegex:
			return strings.Compare(a.SafeRegex.Regex, b.SafeRegex.Regex) > 0
		case *envoy_route_v3.RouteMatch_Prefix:
			return true
		}
	case *envoy_route_v3.RouteMatch_Path:
		if b, ok := s[j].Match.PathSpecifier.(*envoy_route_v3.RouteMatch_Path); ok {
			return strings.Compare(a.Path, b.Path) > 0
		}
	case *envoy_route_v3.RouteMatch_PathSeparatedPrefix:
		if b, ok := s[j].Match.PathSpecifier.(*envoy_route_v3.RouteMatch_PathSeparatedPrefix); ok {
			return strings.Compare(a.PathSeparatedPrefix, b.PathSeparatedPrefix) > 0
		}
	}
	return false
}

// Sorts clusters by name.
type clusterSorter []*envoy_cluster_v3.Cluster

func (s clusterSorter) Len() int           { return len(s) }
func (s clusterSorter) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s clusterSorter) Less(i, j int) bool { return s[i].Name < s[j].Name }

// Sorts cluster load assignments by name.
type clusterLoadAssignmentSorter []*envoy_endpoint_v3.ClusterLoadAssignment

func (s clusterLoadAssignmentSorter) Len() int           { return len(s) }
func (s clusterLoadAssignmentSorter) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s clusterLoadAssignmentSorter) Less(i, j int) bool { return s[i].ClusterName < s[j].ClusterName }

// Sorts the weighted clusters by name, then by weight.
type httpWeightedClusterSorter []*envoy_route_v3.WeightedCluster_ClusterWeight

func (s httpWeightedClusterSorter) Len() int      { return len(s) }
func (s httpWeightedClusterSorter) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s httpWeightedClusterSorter) Less(i, j int) bool {
	if s[i].Name == s[j].Name {
		return s[i].Weight.Value < s[j].Weight.Value
	}
	return s[i].Name < s[j].Name
}

// Listeners sorts the listeners by name.
type listenerSorter []*envoy_listener_v3.Listener

func (s listenerSorter) Len() int           { return len(s) }
func (s listenerSorter) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s listenerSorter) Less(i, j int) bool { return s[i].Name < s[j].Name }

// For returns a sort.Interface object that can be used to sort the
// given value. It returns nil if there is no sorter for the type of
// value.
func For(v interface{}) sort.Interface {
	switch v := v.(type) {
	case []*envoy_route_v3.RouteConfiguration:
		return routeConfigurationSorter(v)
	case []*envoy_route_v3.VirtualHost:
		return virtualHostSorter(v)
	case []*envoy_route_v3.Route:
		return routeSorter(v)
	case []*envoy_cluster_v3.Cluster:
		return clusterSorter(v)
	case []*envoy_endpoint_v3.ClusterLoadAssignment:
		return clusterLoadAssignmentSorter(v)
	case []*envoy_route_v3.WeightedCluster_ClusterWeight:
		return httpWeightedClusterSorter(v)
	case []*envoy_listener_v3.Listener:
		return listenerSorter(v)
	default:
		return nil
	}
}
