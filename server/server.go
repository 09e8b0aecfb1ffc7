package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/n9te9/fedgateway/registry"
)

// registryServer exposes the registry's schema-registration endpoint over HTTP,
// the push-based counterpart to gateway.PollingSupergraphSource's pull model.
type registryServer struct {
	registry *registry.Registry
}

func (s *registryServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/schema/registration":
		if req.Method == http.MethodPost {
			s.registry.RegisterGateway(w, req)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// Graph is one subgraph seeded into the registry at startup, before any
// subgraph has pushed a registration of its own.
type Graph struct {
	Name string
	Host string
	SDL  string
}

// RunRegistry serves the schema-registration side channel on :8080 until the
// process receives a termination signal, pre-seeding it with graphs.
func RunRegistry(graphs []*Graph) error {
	reg := registry.NewRegistry()
	reg.Start()

	for _, g := range graphs {
		if err := reg.Seed(g.Name, g.Host, g.SDL); err != nil {
			return fmt.Errorf("failed to seed subgraph %q: %w", g.Name, err)
		}
	}

	s := &registryServer{registry: reg}

	srv := &http.Server{
		Addr:    ":8080",
		Handler: s,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt, os.Kill)
	defer stop()
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	return nil
}

// defaultGatewayYAML is written by Init for a fresh project; it matches
// gateway.GatewayOption's yaml tags so `serve` can load it unmodified.
const defaultGatewayYAML = `endpoint: /graphql
service_name: federation-gateway
port: 4000
timeout_duration: 5s
enable_hang_over_request_header: true
services: []
opentelemetry:
  tracing:
    enable: false
`

// Init scaffolds a gateway.yaml in the current directory for the "init" CLI
// subcommand. It refuses to overwrite an existing file.
func Init() error {
	const path = "gateway.yaml"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(defaultGatewayYAML), 0o644)
}
