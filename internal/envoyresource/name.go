package envoyresource

import "strings"

// ClusterName joins team and service, lowercased, into a cluster name
// that keeps two teams' identically named backends apart. The
// Materializer does not call it: it names each Cluster by the route's
// upstream name exactly as given.
func ClusterName(team, service string) string {
	return strings.ToLower(team) + "-" + strings.ToLower(service)
}
