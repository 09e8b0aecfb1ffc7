package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"
)

// PollingSupergraphSource re-fetches each configured subgraph's SDL via the
// `{_service{sdl}}` introspection query on every poll, and reports Changed when
// the combined content hash of all SDLs differs from the last poll.
type PollingSupergraphSource struct {
	Services   []GatewayService
	HTTPClient *http.Client
	Retry      RetryOption
	Interval   time.Duration

	lastHash uint64
	primed   bool
}

var _ SupergraphSource = (*PollingSupergraphSource)(nil)

// PollInterval returns the configured poll interval, defaulting to 30s.
func (s *PollingSupergraphSource) PollInterval() time.Duration {
	if s.Interval <= 0 {
		return 30 * time.Second
	}
	return s.Interval
}

// Poll fetches the current SDL for every configured service and reports Changed
// when the combined hash differs from the previous poll (or this is the first poll).
func (s *PollingSupergraphSource) Poll(ctx context.Context) (SupergraphUpdate, error) {
	sdls := make(map[string]string, len(s.Services))
	hosts := make(map[string]string, len(s.Services))

	digest := xxhash.New()
	for _, svc := range s.Services {
		sdl, err := fetchSDL(svc.Host, s.HTTPClient, s.Retry)
		if err != nil {
			return SupergraphUpdate{}, fmt.Errorf("fetching SDL for %q: %w", svc.Name, err)
		}
		sdls[svc.Name] = sdl
		hosts[svc.Name] = svc.Host
		digest.WriteString(svc.Name)
		digest.WriteString(sdl)
	}

	hash := digest.Sum64()
	if s.primed && hash == s.lastHash {
		return SupergraphUpdate{Changed: false}, nil
	}

	s.lastHash = hash
	s.primed = true
	return SupergraphUpdate{Changed: true, SDLs: sdls, Hosts: hosts}, nil
}
