// Package registry provides the etcd-based implementation of the Registry interface.
//
//	Key:   /crm-rpc/{name}/{addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if a server dies without withdrawing, the lease expires and
// the entry disappears on its own.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const requestTimeout = 5 * time.Second

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease kept alive by this process
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: requestTimeout,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client: c,
		leases: make(map[string]clientv3.LeaseID),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Register puts the instance under a TTL lease and keeps the lease alive in the background
// until Deregister or Close.
func (r *EtcdRegistry) Register(name string, instance ServiceInstance, ttl int64) error {
	ctx, cancel := context.WithTimeout(r.ctx, requestTimeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.WithStack(err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return errors.WithStack(err)
	}

	key := serviceKey(name, instance.Addr)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errors.WithStack(err)
	}

	// KeepAlive must outlive this call, so it hangs off the registry's own context
	ch, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return errors.WithStack(err)
	}
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	return nil
}

// Deregister removes an instance. When this process owns its lease, the lease is revoked,
// which also stops the keep-alive.
func (r *EtcdRegistry) Deregister(name string, addr string) error {
	ctx, cancel := context.WithTimeout(r.ctx, requestTimeout)
	defer cancel()

	key := serviceKey(name, addr)
	r.mu.Lock()
	leaseID, owned := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if owned {
		if _, err := r.client.Revoke(ctx, leaseID); err != nil {
			return errors.WithStack(err)
		}
		return nil
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Watch emits the full instance list of name each time it changes, until Close.
func (r *EtcdRegistry) Watch(name string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(r.ctx, servicePrefix(name), clientv3.WithPrefix())
		for range watchChan {
			// Re-read the whole list rather than applying individual events
			instances, err := r.Discover(name)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-r.ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered instances of name.
func (r *EtcdRegistry) Discover(name string) ([]ServiceInstance, error) {
	ctx, cancel := context.WithTimeout(r.ctx, requestTimeout)
	defer cancel()

	resp, err := r.client.Get(ctx, servicePrefix(name), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.WithStack(err)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

// Close stops keep-alives and watches and closes the etcd client.
// Leases that were not deregistered expire after their TTL.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return errors.WithStack(r.client.Close())
}
