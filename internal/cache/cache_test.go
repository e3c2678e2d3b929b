package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestPutManyAssignsMonotonicGlobalVersion(t *testing.T) {
	c := New()

	v1, err := c.PutMany([]Change{{Type: ClusterType, Name: "a", Payload: wrapperspb.String("1")}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1)

	v2, err := c.PutMany([]Change{{Type: ClusterType, Name: "b", Payload: wrapperspb.String("1")}})
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
}

func TestIdenticalPayloadDoesNotChurnVersionOrGlobalVersion(t *testing.T) {
	c := New()
	v1, err := c.PutMany([]Change{{Type: ClusterType, Name: "a", Payload: wrapperspb.String("same")}})
	require.NoError(t, err)

	before := c.Snapshot(ClusterType)[0].Version

	v2, err := c.PutMany([]Change{{Type: ClusterType, Name: "a", Payload: wrapperspb.String("same")}})
	require.NoError(t, err)

	assert.Equal(t, v1, v2, "global version must not advance on a no-op change")
	after := c.Snapshot(ClusterType)[0].Version
	assert.Equal(t, before, after, "per-resource version must not churn on identical content")
}

func TestSnapshotHasNoTornReadsAcrossTypes(t *testing.T) {
	c := New()
	_, err := c.PutMany([]Change{
		{Type: ClusterType, Name: "a", Payload: wrapperspb.String("1")},
		{Type: RouteConfigurationType, Name: "default-gateway-routes", Payload: wrapperspb.String("1")},
	})
	require.NoError(t, err)

	clusters := c.Snapshot(ClusterType)
	routes := c.Snapshot(RouteConfigurationType)
	require.Len(t, clusters, 1)
	require.Len(t, routes, 1)
}

func TestSubscribeReceivesOrderedEvents(t *testing.T) {
	c := New()
	sub := c.Subscribe()
	defer sub.Close()

	_, err := c.PutMany([]Change{{Type: ClusterType, Name: "a", Payload: wrapperspb.String("1")}})
	require.NoError(t, err)

	ev := <-sub.Events
	assert.Equal(t, uint64(1), ev.GlobalVersion)
	assert.Equal(t, Added, ev.Changes[0].Kind)
}

func TestSlowSubscriberCollapsesToLatestWithoutStaleIntermediate(t *testing.T) {
	c := New()
	sub := c.Subscribe()
	defer sub.Close()

	// Two changes arrive before the subscriber drains anything. The
	// mailbox has capacity 1, so only the latest should be observed.
	_, err := c.PutMany([]Change{{Type: ClusterType, Name: "a", Payload: wrapperspb.String("1")}})
	require.NoError(t, err)
	_, err = c.PutMany([]Change{{Type: ClusterType, Name: "b", Payload: wrapperspb.String("1")}})
	require.NoError(t, err)

	ev := <-sub.Events
	assert.Equal(t, uint64(2), ev.GlobalVersion)

	select {
	case <-sub.Events:
		t.Fatal("expected only one collapsed event to be pending")
	default:
	}
}

func TestRemovalOfUnknownNameIsNoOp(t *testing.T) {
	c := New()
	v, err := c.PutMany([]Change{{Type: ClusterType, Name: "missing", Payload: nil}})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)
}
