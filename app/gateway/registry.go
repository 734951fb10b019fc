package gateway

import (
	"errors"
	"net/http"
	"strings"
)

var ErrGatewayNotSupported = errors.New("gateway is not supported")

// Registry holds the configured gateway variants in registration
// order. Identification is a pure function over request headers.
type Registry struct {
	ordered []Gateway
	byName  map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	items := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		items[g.Name()] = g
	}
	return &Registry{ordered: gateways, byName: items}
}

func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrGatewayNotSupported
	}
	return g, nil
}

// Identify selects the first registered gateway whose signature header
// is present, returning the gateway and the header value. Only
// configured gateways are ever registered, so no guessing happens
// here: absent headers mean an unknown caller.
func (r *Registry) Identify(headers http.Header) (Gateway, string, bool) {
	for _, g := range r.ordered {
		for _, name := range g.SignatureHeaders() {
			if value := strings.TrimSpace(headers.Get(name)); value != "" {
				return g, value, true
			}
		}
	}
	return nil, "", false
}
