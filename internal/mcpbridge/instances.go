package mcpbridge

import "sync"

// Instances maps server_name to a local Bridge instance. It is populated
// before the transport starts so inbound mcp_message control requests are
// answerable immediately.
type Instances struct {
	mu   sync.RWMutex
	byName map[string]*Bridge
}

func NewInstances() *Instances {
	return &Instances{byName: make(map[string]*Bridge)}
}

func (i *Instances) Register(name string, b *Bridge) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.byName[name] = b
}

func (i *Instances) Get(name string) (*Bridge, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	b, ok := i.byName[name]
	return b, ok
}

func (i *Instances) Names() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	names := make([]string, 0, len(i.byName))
	for n := range i.byName {
		names = append(names, n)
	}
	return names
}
