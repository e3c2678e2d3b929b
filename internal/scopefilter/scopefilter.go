// Package scopefilter implements the Scope Filter: a deterministic,
// side-effect-free function from a stream's node metadata and the full
// cache snapshot to the subset of resource names that stream is
// permitted to see. It is grounded on the node-metadata-driven
// visibility scoping from the teacher's gateway-provisioner/Gateway
// listener-class partitioning, generalized to also walk
// Listener -> RouteConfiguration -> Cluster (spec.md §4.8), and on
// Consul ACL's transitive-reference-closure style for resource
// visibility.
package scopefilter

import "github.com/flowplane/flowplane/internal/types"

// ScopeKind is the requested visibility scope, read from a stream's
// node.metadata.
type ScopeKind string

const (
	ScopeAll       ScopeKind = "all"
	ScopeTeam      ScopeKind = "team"
	ScopeAllowlist ScopeKind = "allowlist"
)

// Metadata is the subset of an ADS stream's node.metadata this filter
// reads. An empty or absent Scope is treated as ScopeAll.
type Metadata struct {
	Scope             ScopeKind
	Team              string
	ListenerAllowlist []string
	IncludeDefault    bool
}

// Snapshot is the full set of resources a Scope Filter call chooses
// from. It mirrors repository.Snapshot's Listener/RouteConfiguration/
// Cluster fields but is the shape the filter needs, independent of how
// the caller obtained it (Repository.ListActive or internal/cache).
type Snapshot struct {
	Listeners           []types.Listener
	RouteConfigurations []types.RouteConfiguration
	Clusters             []types.Cluster
}

// Visible is the result of a filter evaluation: the set of resource
// names of each kind the requesting stream may observe.
type Visible struct {
	ListenerNames        map[string]bool
	RouteConfigNames     map[string]bool
	ClusterNames         map[string]bool
}

func newVisible() Visible {
	return Visible{
		ListenerNames:    make(map[string]bool),
		RouteConfigNames: make(map[string]bool),
		ClusterNames:     make(map[string]bool),
	}
}

// Apply evaluates the Scope Filter. It never mutates snap and is safe
// to call concurrently from many streams.
func Apply(meta Metadata, snap Snapshot) Visible {
	switch meta.Scope {
	case ScopeTeam:
		return applyTeam(meta, snap)
	case ScopeAllowlist:
		return applyAllowlist(meta, snap)
	default:
		return applyAll(snap)
	}
}

func applyAll(snap Snapshot) Visible {
	v := newVisible()
	for _, l := range snap.Listeners {
		v.ListenerNames[l.Name] = true
	}
	for _, rc := range snap.RouteConfigurations {
		v.RouteConfigNames[rc.Name] = true
	}
	for _, c := range snap.Clusters {
		v.ClusterNames[c.Name] = true
	}
	return v
}

func applyTeam(meta Metadata, snap Snapshot) Visible {
	v := newVisible()
	rcByName := indexRouteConfigs(snap.RouteConfigurations)

	for _, l := range snap.Listeners {
		if l.OwnerTeam == meta.Team {
			includeListener(&v, l, rcByName)
		}
	}
	if meta.IncludeDefault {
		for _, l := range snap.Listeners {
			if l.Name == types.DefaultGatewayListenerName {
				includeListener(&v, l, rcByName)
			}
		}
	}
	return v
}

func applyAllowlist(meta Metadata, snap Snapshot) Visible {
	v := newVisible()
	rcByName := indexRouteConfigs(snap.RouteConfigurations)

	allowed := make(map[string]bool, len(meta.ListenerAllowlist))
	for _, name := range meta.ListenerAllowlist {
		allowed[name] = true
	}

	for _, l := range snap.Listeners {
		if allowed[l.Name] {
			includeListener(&v, l, rcByName)
		}
	}
	return v
}

func indexRouteConfigs(rcs []types.RouteConfiguration) map[string]*types.RouteConfiguration {
	out := make(map[string]*types.RouteConfiguration, len(rcs))
	for i := range rcs {
		out[rcs[i].Name] = &rcs[i]
	}
	return out
}

func includeListener(v *Visible, l types.Listener, rcByName map[string]*types.RouteConfiguration) {
	v.ListenerNames[l.Name] = true
	if l.RouteConfigName == "" {
		return
	}
	v.RouteConfigNames[l.RouteConfigName] = true
	rc, ok := rcByName[l.RouteConfigName]
	if !ok {
		return
	}
	for _, vh := range rc.VirtualHosts {
		for _, route := range vh.Routes {
			if route.Upstream != nil {
				v.ClusterNames[route.Upstream.Name] = true
			}
			for _, wt := range route.WeightedTargets {
				v.ClusterNames[wt.Name] = true
			}
		}
	}
}
