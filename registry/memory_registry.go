package registry

import (
	"sort"
	"sync"
)

// MemoryRegistry is an in-process Registry for tests and single-host setups. TTLs are ignored.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string]map[string]ServiceInstance // name → addr → instance
	watchers  map[string][]chan []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string]map[string]ServiceInstance),
		watchers:  make(map[string][]chan []ServiceInstance),
	}
}

func (m *MemoryRegistry) Register(name string, instance ServiceInstance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byAddr, ok := m.instances[name]
	if !ok {
		byAddr = make(map[string]ServiceInstance)
		m.instances[name] = byAddr
	}
	byAddr[instance.Addr] = instance
	m.notify(name)
	return nil
}

func (m *MemoryRegistry) Deregister(name string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances[name], addr)
	m.notify(name)
	return nil
}

func (m *MemoryRegistry) Discover(name string) ([]ServiceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(name), nil
}

// Watch emits the current list of name on every change. Slow readers only see the latest list.
func (m *MemoryRegistry) Watch(name string) <-chan []ServiceInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan []ServiceInstance, 1)
	m.watchers[name] = append(m.watchers[name], ch)
	return ch
}

func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, chans := range m.watchers {
		for _, ch := range chans {
			close(ch)
		}
		delete(m.watchers, name)
	}
	return nil
}

func (m *MemoryRegistry) list(name string) []ServiceInstance {
	instances := make([]ServiceInstance, 0, len(m.instances[name]))
	for _, inst := range m.instances[name] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Addr < instances[j].Addr
	})
	return instances
}

// notify must be called with mu held.
func (m *MemoryRegistry) notify(name string) {
	instances := m.list(name)
	for _, ch := range m.watchers[name] {
		select {
		case <-ch:
		default:
		}
		ch <- instances
	}
}
