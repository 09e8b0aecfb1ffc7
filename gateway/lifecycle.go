package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// SupergraphUpdate is what a SupergraphSource returns on a poll cycle. Changed
// is false for "Unchanged" cycles, in which case SDLs/Hosts are ignored.
type SupergraphUpdate struct {
	Changed bool
	SDLs    map[string]string
	Hosts   map[string]string
}

// SupergraphSource is a pluggable loader polled by Lifecycle on an interval.
// ETag handling, or any other change-detection mechanism, is the source's concern;
// Lifecycle only acts on the Changed flag.
type SupergraphSource interface {
	Poll(ctx context.Context) (SupergraphUpdate, error)
	PollInterval() time.Duration
}

// Lifecycle owns the current supergraph snapshot, hot-swapping it behind a single
// atomic pointer as new SDLs arrive from a SupergraphSource. In-flight requests
// keep using the snapshot they captured at Current(); new requests observe the
// swapped-in snapshot immediately after a successful poll.
type Lifecycle struct {
	store      atomic.Value // holds *schemaStore
	ready      atomic.Bool
	httpClient *http.Client
	onSwap     []func()
	logger     *slog.Logger
}

// NewLifecycle constructs a Lifecycle with no snapshot loaded yet; Current()
// returns nil and Ready() is false until the first successful Load or poll cycle.
func NewLifecycle(httpClient *http.Client, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{httpClient: httpClient, logger: logger}
}

// OnSwap registers a callback invoked synchronously right after a new snapshot is
// published, before the old one is fully forgotten. Used to invalidate caches
// that are keyed partly on schema identity.
func (l *Lifecycle) OnSwap(fn func()) {
	l.onSwap = append(l.onSwap, fn)
}

// Current returns the live schemaStore, or nil if no snapshot has ever loaded.
func (l *Lifecycle) Current() *schemaStore {
	v := l.store.Load()
	if v == nil {
		return nil
	}
	return v.(*schemaStore)
}

// Ready reports whether a supergraph snapshot has ever successfully loaded.
func (l *Lifecycle) Ready() bool {
	return l.ready.Load()
}

// Load builds and publishes a snapshot directly, without going through a source.
// Used for static configuration (GatewayOption.Services) as well as tests.
func (l *Lifecycle) Load(sdls, hosts map[string]string) error {
	engine, err := buildEngine(sdls, hosts, l.httpClient)
	if err != nil {
		return err
	}
	l.publish(&schemaStore{
		sdls:    copyMap(sdls),
		hosts:   copyMap(hosts),
		engine:  engine,
		version: schemaVersion(sdls),
	})
	return nil
}

func (l *Lifecycle) publish(store *schemaStore) {
	l.store.Store(store)
	l.ready.Store(true)
	for _, fn := range l.onSwap {
		fn()
	}
}

// Run polls source on its configured interval until ctx is canceled. A failed
// load is logged and the prior snapshot (if any) is retained; readiness only
// reports not-ready until the first successful load ever completes.
func (l *Lifecycle) Run(ctx context.Context, source SupergraphSource) {
	interval := source.PollInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.pollOnce(ctx, source)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.pollOnce(ctx, source)
		}
	}
}

func (l *Lifecycle) pollOnce(ctx context.Context, source SupergraphSource) {
	update, err := source.Poll(ctx)
	if err != nil {
		l.logger.Error("supergraph poll failed, retaining prior snapshot", "error", err)
		return
	}
	if !update.Changed {
		return
	}

	engine, err := buildEngine(update.SDLs, update.Hosts, l.httpClient)
	if err != nil {
		l.logger.Error("supergraph reload failed, retaining prior snapshot", "error", err)
		return
	}

	l.publish(&schemaStore{
		sdls:    copyMap(update.SDLs),
		hosts:   copyMap(update.Hosts),
		engine:  engine,
		version: schemaVersion(update.SDLs),
	})
	l.logger.Info("supergraph snapshot swapped", "subgraphs", len(update.SDLs))
}

// ErrNoSupergraphAvailable is returned by handlers when no snapshot has loaded yet.
var ErrNoSupergraphAvailable = fmt.Errorf("no supergraph snapshot available")

// HealthHandler always reports 200 once the process has started serving.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ReadinessHandler reports 200 once a supergraph snapshot is live, 503 with
// Retry-After otherwise, per the NO_SUPERGRAPH_AVAILABLE error kind.
func (l *Lifecycle) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !l.Ready() {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}
