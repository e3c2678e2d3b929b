package xds

import (
	envoy_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"

	"github.com/flowplane/flowplane/internal/scopefilter"
)

// parseMetadata reads the Scope Filter fields out of an ADS stream's
// node.metadata. An absent or malformed metadata struct is treated as
// ScopeAll (spec.md §4.8: "absent scope defaults to all").
func parseMetadata(node *envoy_core_v3.Node) scopefilter.Metadata {
	meta := scopefilter.Metadata{Scope: scopefilter.ScopeAll}
	if node == nil || node.GetMetadata() == nil {
		return meta
	}
	fields := node.GetMetadata().GetFields()

	if v, ok := fields["scope"]; ok {
		switch v.GetStringValue() {
		case string(scopefilter.ScopeTeam):
			meta.Scope = scopefilter.ScopeTeam
		case string(scopefilter.ScopeAllowlist):
			meta.Scope = scopefilter.ScopeAllowlist
		default:
			meta.Scope = scopefilter.ScopeAll
		}
	}
	if v, ok := fields["team"]; ok {
		meta.Team = v.GetStringValue()
	}
	if v, ok := fields["include_default"]; ok {
		meta.IncludeDefault = v.GetBoolValue()
	}
	if v, ok := fields["listener_allowlist"]; ok {
		for _, lv := range v.GetListValue().GetValues() {
			meta.ListenerAllowlist = append(meta.ListenerAllowlist, lv.GetStringValue())
		}
	}
	return meta
}
