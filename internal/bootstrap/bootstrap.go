// Package bootstrap renders the Envoy bootstrap document a gateway
// instance is launched with: a static node descriptor carrying scope
// intent in node.metadata, and a dynamic_resources.ads_config pointing
// back at this control plane. It is grounded on
// internal/envoy/bootstrap.go's BootstrapConfig/WriteBootstrapConfig
// shape, reworked into a plain Go struct tree (no static
// listeners/clusters/routes, no SDS file resources — spec.md §1 has no
// TLS-to-Envoy non-goal exemption so those fields are simply absent)
// serialized with gopkg.in/yaml.v3 or encoding/json, matching the
// teacher's preference for keeping the bootstrap writer free of a
// protobuf dependency.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Scope mirrors internal/scopefilter.ScopeKind without importing it,
// so this package has no dependency on internal/scopefilter.
type Scope string

const (
	ScopeAll       Scope = "all"
	ScopeTeam      Scope = "team"
	ScopeAllowlist Scope = "allowlist"
)

// Format selects the serialization of the rendered document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Options are the caller-specified inputs to Render.
type Options struct {
	NodeID            string
	Scope             Scope
	Team              string   // required when Scope == ScopeTeam
	ListenerAllowlist []string // required when Scope == ScopeAllowlist
	IncludeDefault    bool     // only meaningful when Scope == ScopeTeam
	Format            Format   // defaults to FormatYAML

	AdvertiseAddress string // host:port of this control plane's ADS service
	AdsServiceName   string // cluster name Envoy's static ADS cluster entry uses
}

func (o Options) format() Format {
	if o.Format == "" {
		return FormatYAML
	}
	return o.Format
}

// document is the plain struct tree rendered to YAML/JSON. Field names
// and nesting mirror Envoy's bootstrap schema exactly so the output is
// valid input to envoy -c.
type document struct {
	Node             node             `yaml:"node" json:"node"`
	StaticResources  staticResources  `yaml:"static_resources" json:"static_resources"`
	DynamicResources dynamicResources `yaml:"dynamic_resources" json:"dynamic_resources"`
}

type node struct {
	ID       string                 `yaml:"id" json:"id"`
	Cluster  string                 `yaml:"cluster" json:"cluster"`
	Metadata map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

type staticResources struct {
	Clusters []cluster `yaml:"clusters" json:"clusters"`
}

type cluster struct {
	Name                 string               `yaml:"name" json:"name"`
	ConnectTimeout       string               `yaml:"connect_timeout" json:"connect_timeout"`
	Type                 string               `yaml:"type" json:"type"`
	TypedExtensionProtocolOptions map[string]interface{} `yaml:"typed_extension_protocol_options,omitempty" json:"typed_extension_protocol_options,omitempty"`
	LoadAssignment       loadAssignment       `yaml:"load_assignment" json:"load_assignment"`
}

type loadAssignment struct {
	ClusterName string     `yaml:"cluster_name" json:"cluster_name"`
	Endpoints   []locality `yaml:"endpoints" json:"endpoints"`
}

type locality struct {
	LbEndpoints []lbEndpoint `yaml:"lb_endpoints" json:"lb_endpoints"`
}

type lbEndpoint struct {
	Endpoint endpoint `yaml:"endpoint" json:"endpoint"`
}

type endpoint struct {
	Address socketAddressWrapper `yaml:"address" json:"address"`
}

type socketAddressWrapper struct {
	SocketAddress socketAddress `yaml:"socket_address" json:"socket_address"`
}

type socketAddress struct {
	Address   string `yaml:"address" json:"address"`
	PortValue int    `yaml:"port_value" json:"port_value"`
}

type dynamicResources struct {
	AdsConfig        adsConfig `yaml:"ads_config" json:"ads_config"`
	CdsConfig        refConfig `yaml:"cds_config" json:"cds_config"`
	LdsConfig        refConfig `yaml:"lds_config" json:"lds_config"`
}

type adsConfig struct {
	APIType             string `yaml:"api_type" json:"api_type"`
	TransportAPIVersion string `yaml:"transport_api_version" json:"transport_api_version"`
	GrpcServices        []grpcService `yaml:"grpc_services" json:"grpc_services"`
}

type refConfig struct {
	Ads                 map[string]interface{} `yaml:"ads" json:"ads"`
	ResourceApiVersion  string                  `yaml:"resource_api_version" json:"resource_api_version"`
}

type grpcService struct {
	EnvoyGrpc envoyGrpc `yaml:"envoy_grpc" json:"envoy_grpc"`
}

type envoyGrpc struct {
	ClusterName string `yaml:"cluster_name" json:"cluster_name"`
}

// metadata builds the node.metadata block encoding scope intent, the
// exact shape internal/xds's parseMetadata reads back out of a stream's
// node descriptor before handing it to internal/scopefilter.Apply.
func (o Options) metadata() map[string]interface{} {
	md := map[string]interface{}{}
	if o.Scope != "" {
		md["scope"] = string(o.Scope)
	}
	if o.Team != "" {
		md["team"] = o.Team
	}
	if len(o.ListenerAllowlist) > 0 {
		md["listener_allowlist"] = o.ListenerAllowlist
	}
	if o.IncludeDefault {
		md["include_default"] = true
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

// Render produces the bootstrap document as bytes in the requested
// format. It is a pure function of o.
func Render(o Options) ([]byte, error) {
	if o.Scope == ScopeTeam && o.Team == "" {
		return nil, fmt.Errorf("bootstrap: scope=team requires a team")
	}
	if o.Scope == ScopeAllowlist && len(o.ListenerAllowlist) == 0 {
		return nil, fmt.Errorf("bootstrap: scope=allowlist requires a non-empty listener_allowlist")
	}

	svc := o.AdsServiceName
	if svc == "" {
		svc = "flowplane_xds_cluster"
	}

	doc := document{
		Node: node{
			ID:       o.NodeID,
			Cluster:  "flowplane-gateway",
			Metadata: o.metadata(),
		},
		StaticResources: staticResources{
			Clusters: []cluster{adsStaticCluster(svc, o.AdvertiseAddress)},
		},
		DynamicResources: dynamicResources{
			AdsConfig: adsConfig{
				APIType:             "GRPC",
				TransportAPIVersion: "V3",
				GrpcServices:        []grpcService{{EnvoyGrpc: envoyGrpc{ClusterName: svc}}},
			},
			CdsConfig: refConfig{Ads: map[string]interface{}{}, ResourceApiVersion: "V3"},
			LdsConfig: refConfig{Ads: map[string]interface{}{}, ResourceApiVersion: "V3"},
		},
	}

	switch o.format() {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	default:
		return yaml.Marshal(doc)
	}
}

func adsStaticCluster(name, advertiseAddress string) cluster {
	host, port := splitHostPort(advertiseAddress)
	return cluster{
		Name:           name,
		ConnectTimeout: "1s",
		Type:           "STRICT_DNS",
		TypedExtensionProtocolOptions: map[string]interface{}{
			"envoy.extensions.upstreams.http.v3.HttpProtocolOptions": map[string]interface{}{
				"@type":             "type.googleapis.com/envoy.extensions.upstreams.http.v3.HttpProtocolOptions",
				"explicit_http_config": map[string]interface{}{"http2_protocol_options": map[string]interface{}{}},
			},
		},
		LoadAssignment: loadAssignment{
			ClusterName: name,
			Endpoints: []locality{{
				LbEndpoints: []lbEndpoint{{
					Endpoint: endpoint{
						Address: socketAddressWrapper{
							SocketAddress: socketAddress{Address: host, PortValue: port},
						},
					},
				}},
			}},
		},
	}
}

func splitHostPort(hostport string) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "127.0.0.1", 18000
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 18000
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port
}
