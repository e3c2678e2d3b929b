package xds

import (
	"context"
	"strconv"

	envoy_discovery_v3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/flowplane/flowplane/internal/cache"
	"github.com/flowplane/flowplane/internal/scopefilter"
)

// sotwTypeState is the per-(stream,type URL) bookkeeping the SotW loop
// keeps: which resource names Envoy last asked for, and the nonce of
// the most recently sent response (to recognize a stale ACK).
type sotwTypeState struct {
	names []string
	nonce string
}

// StreamAggregatedResources implements the SotW ADS variant: the
// entire contents of a resource type are sent on every push, nonce and
// version are the Resource Cache's global version, and a NACK is
// recognized by a non-empty ErrorDetail alone (its nonce is not
// checked). Grounded on
// internal/xds/v3/contour.go's contourServer.stream.
func (s *Server) StreamAggregatedResources(stream envoy_discovery_v3.AggregatedDiscoveryService_StreamAggregatedResourcesServer) error {
	streamID := s.nextStreamID()
	log := s.log.WithField("stream_id", streamID).WithField("variant", "sotw")
	s.metrics.StreamOpened("sotw")
	defer s.metrics.StreamClosed("sotw")

	done := func(err error) error {
		if err != nil {
			log.WithError(err).Info("stream terminated")
		} else {
			log.Info("stream terminated")
		}
		return err
	}

	sub := s.resources.Subscribe()
	defer sub.Close()

	type recvResult struct {
		req *envoy_discovery_v3.DiscoveryRequest
		err error
	}
	reqCh := make(chan recvResult, 1)
	go func() {
		for {
			req, err := stream.Recv()
			reqCh <- recvResult{req: req, err: err}
			if err != nil {
				return
			}
		}
	}()

	states := map[string]*sotwTypeState{}
	meta := scopefilter.Metadata{Scope: scopefilter.ScopeAll}
	metaSet := false
	ctx := stream.Context()

	for {
		select {
		case r := <-reqCh:
			if r.err != nil {
				return done(r.err)
			}
			req := r.req
			if !metaSet && req.GetNode() != nil {
				meta = parseMetadata(req.GetNode())
				metaSet = true
			}

			ts, ok := states[req.GetTypeUrl()]
			if !ok {
				ts = &sotwTypeState{}
				states[req.GetTypeUrl()] = ts
			}

			if req.GetErrorDetail() != nil {
				s.metrics.NackReceived(req.GetTypeUrl())
				log.WithField("type_url", req.GetTypeUrl()).
					WithField("detail", req.GetErrorDetail().GetMessage()).
					Warn("envoy nacked discovery response")
				continue
			}
			if req.GetResponseNonce() != "" && req.GetResponseNonce() != ts.nonce {
				// stale ack/nack referencing a superseded response
				continue
			}

			namesChanged := !sameResourceNames(ts.names, req.GetResourceNames())
			alreadyPushed := ts.nonce != ""
			if alreadyPushed && req.GetResponseNonce() == ts.nonce && !namesChanged {
				// Plain ACK: the client already has this content and its
				// subscription didn't change, so there is nothing new to
				// send (spec.md §4.7.3 step 5). Without this check every
				// ACK would provoke an identical response, which would in
				// turn be ACKed again, forever.
				continue
			}

			ts.names = req.GetResourceNames()
			if err := s.pushSotwType(ctx, stream, ts, cache.ResourceType(req.GetTypeUrl()), meta); err != nil {
				return done(err)
			}

		case ev, ok := <-sub.Events:
			if !ok {
				return done(nil)
			}
			s.metrics.SetGlobalVersion(ev.GlobalVersion)
			for _, t := range cache.PushOrder {
				ts, ok := states[string(t)]
				if !ok {
					continue
				}
				if err := s.pushSotwType(ctx, stream, ts, t, meta); err != nil {
					return done(err)
				}
			}

		case <-ctx.Done():
			return done(ctx.Err())
		}
	}
}

// sameResourceNames reports whether a and b name the same resource set,
// ignoring order.
func sameResourceNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, n := range a {
		set[n]++
	}
	for _, n := range b {
		set[n]--
	}
	for _, v := range set {
		if v != 0 {
			return false
		}
	}
	return true
}

// pushSotwType builds and sends one DiscoveryResponse for t, scoped by
// meta and, when Envoy supplied resource name hints, further narrowed
// to exactly those names (spec.md §4.7: "resource hints supplied,
// return exactly those").
func (s *Server) pushSotwType(ctx context.Context, stream envoy_discovery_v3.AggregatedDiscoveryService_StreamAggregatedResourcesServer, ts *sotwTypeState, t cache.ResourceType, meta scopefilter.Metadata) error {
	domain, err := s.domainSnapshot(ctx)
	if err != nil {
		return err
	}
	visible := namesForType(t, scopefilter.Apply(meta, domain))

	var hinted map[string]bool
	if len(ts.names) > 0 {
		hinted = make(map[string]bool, len(ts.names))
		for _, n := range ts.names {
			hinted[n] = true
		}
	}

	all := s.resources.Snapshot(t)
	resources := make([]*anypb.Any, 0, len(all))
	for _, r := range all {
		if visible != nil && !visible[r.Name] {
			continue
		}
		if hinted != nil && !hinted[r.Name] {
			continue
		}
		a, err := anypb.New(r.Payload)
		if err != nil {
			return err
		}
		resources = append(resources, a)
	}

	nonce := strconv.FormatUint(s.resources.GlobalVersion(), 10)
	ts.nonce = nonce

	return stream.Send(&envoy_discovery_v3.DiscoveryResponse{
		VersionInfo: nonce,
		Resources:   resources,
		TypeUrl:     string(t),
		Nonce:       nonce,
	})
}
