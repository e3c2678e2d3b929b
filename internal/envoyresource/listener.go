package envoyresource

import (
	envoy_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_listener_v3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	envoy_hcm "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/flowplane/flowplane/internal/protobuf"
	"github.com/flowplane/flowplane/internal/types"
)

const httpConnectionManagerFilterName = "envoy.filters.network.http_connection_manager"

// Listener builds an envoy_listener_v3.Listener wired to an ADS-sourced
// RouteConfiguration, the only route-discovery shape the core needs
// (spec.md §1 non-goal on static routes/clusters in the bootstrap).
func Listener(l *types.Listener) *envoy_listener_v3.Listener {
	hcm := &envoy_hcm.HttpConnectionManager{
		StatPrefix: l.Name,
		RouteSpecifier: &envoy_hcm.HttpConnectionManager_Rds{
			Rds: &envoy_hcm.Rds{
				ConfigSource:    adsConfigSource(),
				RouteConfigName: l.RouteConfigName,
			},
		},
		HttpFilters: []*envoy_hcm.HttpFilter{{
			Name: "envoy.filters.http.router",
		}},
	}

	return &envoy_listener_v3.Listener{
		Name: l.Name,
		Address: &envoy_core_v3.Address{
			Address: &envoy_core_v3.Address_SocketAddress{
				SocketAddress: &envoy_core_v3.SocketAddress{
					Address: l.BindAddress,
					PortSpecifier: &envoy_core_v3.SocketAddress_PortValue{
						PortValue: l.Port,
					},
				},
			},
		},
		FilterChains: []*envoy_listener_v3.FilterChain{{
			Filters: []*envoy_listener_v3.Filter{{
				Name:       httpConnectionManagerFilterName,
				ConfigType: &envoy_listener_v3.Filter_TypedConfig{TypedConfig: protobuf.MustMarshalAny(hcm)},
			}},
		}},
	}
}

func adsConfigSource() *envoy_core_v3.ConfigSource {
	return &envoy_core_v3.ConfigSource{
		ResourceApiVersion: envoy_core_v3.ApiVersion_V3,
		ConfigSourceSpecifier: &envoy_core_v3.ConfigSource_Ads{
			Ads: &envoy_core_v3.AggregatedConfigSource{},
		},
		InitialFetchTimeout: durationpb.New(0),
	}
}
