package gateway

import "fmt"

// Registry selects an adapter by gateway name.
type Registry struct {
	clients map[string]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Client, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, name)
	}
	return c, nil
}

// Names lists the registered gateway names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}
