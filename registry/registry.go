package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/n9te9/fedgateway/federation/graph"
	"github.com/n9te9/goliteql/schema"
)

type Registry struct {
	gatewayHosts     atomic.Value
	addHostChan      chan string
	registratedGraph atomic.Value
	client           *http.Client
}

func NewRegistry() *Registry {
	gatewayHosts := atomic.Value{}
	gatewayHosts.Store(make(map[string]struct{}))

	registratedGraph := atomic.Value{}
	registratedGraph.Store(make([]*graph.SubGraphV2, 0))

	return &Registry{
		gatewayHosts:     gatewayHosts,
		addHostChan:      make(chan string),
		registratedGraph: registratedGraph,
		client:           &http.Client{},
	}
}

func (r *Registry) Start() {
	go func() {
		for host := range r.addHostChan {
			r.addGatewayHost(host)
		}
	}()
}

// Seed registers a subgraph directly, without going through the HTTP
// registration endpoint. Used to pre-populate a registry from static
// configuration at startup.
func (r *Registry) Seed(name, host, sdl string) error {
	if err := checkSDL([]byte(sdl)); err != nil {
		return fmt.Errorf("subgraph %q: %w", name, err)
	}

	subGraph, err := graph.NewSubGraphV2(name, []byte(sdl), host)
	if err != nil {
		return err
	}

	registratedGraphs := r.registratedGraph.Load().([]*graph.SubGraphV2)
	r.registratedGraph.Store(append(registratedGraphs, subGraph))
	return nil
}

// checkSDL runs a pushed SDL through the goliteql schema parser before any
// federation metadata is extracted from it: the registry rejects documents
// that are not well-formed SDL, including extend blocks the federation
// metadata pass does not care about.
func checkSDL(src []byte) error {
	if _, err := schema.NewParser(schema.NewLexer()).Parse(src); err != nil {
		return fmt.Errorf("invalid SDL: %w", err)
	}
	return nil
}

func (r *Registry) addGatewayHost(host string) {
	gatewayHosts := r.gatewayHosts.Load().(map[string]struct{})
	gatewayHosts[host] = struct{}{}
	r.gatewayHosts.Store(gatewayHosts)
}

type RegistrationGraph struct {
	Name string `json:"name"`
	Host string `json:"host"`
	SDL  string `json:"sdl"`
}

type RegistrationRequest struct {
	RegistrationGraphs []RegistrationGraph `json:"registration_graphs"`
}

func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/schema/registration":
		r.RegisterGateway(w, req)
	}
}

func (r *Registry) RegisterGateway(w http.ResponseWriter, req *http.Request) {
	var body RegistrationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "Failed to decode request body", http.StatusBadRequest)
		return
	}

	registratedGraphs := r.registratedGraph.Load().([]*graph.SubGraphV2)
	for _, rg := range body.RegistrationGraphs {
		if err := checkSDL([]byte(rg.SDL)); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		subGraph, err := graph.NewSubGraphV2(rg.Name, []byte(rg.SDL), rg.Host)
		if err != nil {
			http.Error(w, "Failed to create subgraph", http.StatusBadRequest)
			return
		}

		r.addHostChan <- rg.Host
		registratedGraphs = append(registratedGraphs, subGraph)
	}

	gatewayHosts := r.gatewayHosts.Load().(map[string]struct{})
	for sgHost := range gatewayHosts {
		reqBody, err := json.Marshal(body)
		if err != nil {
			http.Error(w, "Failed to marshal request body", http.StatusInternalServerError)
			return
		}

		registerGatewayRequest, err := http.NewRequestWithContext(req.Context(), http.MethodPost, sgHost+"/schema/registration", bytes.NewBuffer(reqBody))
		if err != nil {
			http.Error(w, "Failed to create gateway request", http.StatusInternalServerError)
			return
		}

		go func() {
			if _, err := r.client.Do(registerGatewayRequest); err != nil {
				http.Error(w, "Failed to register gateway", http.StatusInternalServerError)
				return
			}
		}()
	}

	r.registratedGraph.Store(registratedGraphs)
}
