package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRenderScopeAllProducesNoMetadata(t *testing.T) {
	out, err := Render(Options{NodeID: "envoy-1", AdvertiseAddress: "10.0.0.1:18000"})
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &doc))

	n := doc["node"].(map[string]interface{})
	assert.Equal(t, "envoy-1", n["id"])
	_, hasMetadata := n["metadata"]
	assert.False(t, hasMetadata)
}

func TestRenderScopeTeamEncodesMetadata(t *testing.T) {
	out, err := Render(Options{
		NodeID: "envoy-2", Scope: ScopeTeam, Team: "payments", IncludeDefault: true,
		AdvertiseAddress: "10.0.0.1:18000",
	})
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &doc))
	md := doc["node"].(map[string]interface{})["metadata"].(map[string]interface{})
	assert.Equal(t, "team", md["scope"])
	assert.Equal(t, "payments", md["team"])
	assert.Equal(t, true, md["include_default"])
}

func TestRenderScopeTeamWithoutTeamIsRejected(t *testing.T) {
	_, err := Render(Options{Scope: ScopeTeam})
	assert.Error(t, err)
}

func TestRenderScopeAllowlistWithoutEntriesIsRejected(t *testing.T) {
	_, err := Render(Options{Scope: ScopeAllowlist})
	assert.Error(t, err)
}

func TestRenderJSONFormatProducesValidJSON(t *testing.T) {
	out, err := Render(Options{NodeID: "envoy-1", Format: FormatJSON, AdvertiseAddress: "10.0.0.1:18000"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"id": "envoy-1"`)
}

func TestRenderIsDeterministic(t *testing.T) {
	opts := Options{NodeID: "envoy-1", Scope: ScopeAllowlist, ListenerAllowlist: []string{"team-payments"}, AdvertiseAddress: "10.0.0.1:18000"}
	a, err := Render(opts)
	require.NoError(t, err)
	b, err := Render(opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
