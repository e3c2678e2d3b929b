// Package envoyresource translates the domain-shaped records in
// internal/types into the wire-shape Envoy v3 protobuf resources the
// Resource Cache stores and the xDS server serves. It is grounded on
// internal/envoy/v3/{cluster,endpoint,route,listener}.go, trimmed to
// the fraction of Envoy's configuration surface the data model in
// spec.md §3 actually needs (no TLS contexts, CORS, JWT, Lua, or
// internal-redirect filters — none of those concepts exist in the
// domain model).
package envoyresource

import (
	"net"
	"strconv"
	"time"

	envoy_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoy_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_endpoint_v3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"

	"github.com/flowplane/flowplane/internal/protobuf"
	"github.com/flowplane/flowplane/internal/types"
)

const connectTimeout = 2 * time.Second

// lbPolicy maps the domain's free-form LBPolicy string onto Envoy's
// Cluster_LbPolicy enum, defaulting to round robin exactly as
// clusterDefaults() did for the teacher's unset case.
func lbPolicy(policy string) envoy_cluster_v3.Cluster_LbPolicy {
	switch policy {
	case "least_request":
		return envoy_cluster_v3.Cluster_LEAST_REQUEST
	case "ring_hash":
		return envoy_cluster_v3.Cluster_RING_HASH
	case "random":
		return envoy_cluster_v3.Cluster_RANDOM
	default:
		return envoy_cluster_v3.Cluster_ROUND_ROBIN
	}
}

// Cluster builds an envoy_cluster_v3.Cluster from a domain Cluster. All
// endpoints are delivered statically via LoadAssignment: the core has
// no service-discovery integration (spec.md §1 non-goal), so STRICT_DNS
// discovery with inline endpoints is the only cluster shape needed.
func Cluster(c *types.Cluster) *envoy_cluster_v3.Cluster {
	return &envoy_cluster_v3.Cluster{
		Name:                 c.Name,
		ConnectTimeout:       protobuf.Duration(connectTimeout),
		ClusterDiscoveryType: &envoy_cluster_v3.Cluster_Type{Type: envoy_cluster_v3.Cluster_STRICT_DNS},
		LbPolicy:             lbPolicy(c.LBPolicy),
		LoadAssignment:       loadAssignment(c),
		DnsLookupFamily:      envoy_cluster_v3.Cluster_V4_ONLY,
	}
}

func loadAssignment(c *types.Cluster) *envoy_endpoint_v3.ClusterLoadAssignment {
	var endpoints []*envoy_endpoint_v3.LbEndpoint
	for _, hostport := range c.Endpoints {
		endpoints = append(endpoints, lbEndpoint(hostport))
	}
	return &envoy_endpoint_v3.ClusterLoadAssignment{
		ClusterName: c.Name,
		Endpoints: []*envoy_endpoint_v3.LocalityLbEndpoints{{
			LbEndpoints: endpoints,
		}},
	}
}

func lbEndpoint(hostport string) *envoy_endpoint_v3.LbEndpoint {
	host, portStr, err := net.SplitHostPort(hostport)
	var port uint64
	if err == nil {
		port, _ = strconv.ParseUint(portStr, 10, 32)
	} else {
		host = hostport
	}
	return &envoy_endpoint_v3.LbEndpoint{
		HostIdentifier: &envoy_endpoint_v3.LbEndpoint_Endpoint{
			Endpoint: &envoy_endpoint_v3.Endpoint{
				Address: &envoy_core_v3.Address{
					Address: &envoy_core_v3.Address_SocketAddress{
						SocketAddress: &envoy_core_v3.SocketAddress{
							Address: host,
							PortSpecifier: &envoy_core_v3.SocketAddress_PortValue{
								PortValue: uint32(port),
							},
						},
					},
				},
			},
		},
	}
}
