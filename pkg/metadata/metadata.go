// Package metadata wraps an etcd v3 client with the small set of
// operations the core needs against the /haste/... key layout
// (spec.md §6), grounded on
// original_source/haste-core/src/myetcd.rs's MyEtcd (set/setnx/get/delete).
package metadata

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/haste-cluster/haste/pkg/herrors"
)

// Store wraps a clientv3.Client.
type Store struct {
	client *clientv3.Client
}

// Open dials etcd at the given endpoints.
func Open(endpoints []string, dialTimeout time.Duration) (*Store, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, herrors.Transport("dial etcd", err)
	}
	return &Store{client: client}, nil
}

// Close closes the underlying etcd client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Set writes key=val with no expiration.
func (s *Store) Set(ctx context.Context, key, val string) error {
	if _, err := s.client.Put(ctx, key, val); err != nil {
		return herrors.Transport(fmt.Sprintf("etcd put %s", key), err)
	}
	return nil
}

// SetNX writes key=val under a lease that expires after ttl, failing if
// key already exists. cmd/haste-server publishes the agent-registration
// key (/haste/agent/<host>) with Set, so that key carries no lease.
func (s *Store) SetNX(ctx context.Context, key, val string, ttl time.Duration) error {
	lease, err := s.client.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return herrors.Transport(fmt.Sprintf("etcd grant lease for %s", key), err)
	}

	txn := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, val, clientv3.WithLease(lease.ID))).
		Else()

	resp, err := txn.Commit()
	if err != nil {
		return herrors.Transport(fmt.Sprintf("etcd setnx %s", key), err)
	}
	if !resp.Succeeded {
		return herrors.Transport(fmt.Sprintf("etcd setnx %s: key already exists", key), nil)
	}
	return nil
}

// Get reads key, returning ("", false, nil) if it doesn't exist.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return "", false, herrors.Transport(fmt.Sprintf("etcd get %s", key), err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// GetPrefix reads every key under prefix, returning a key→value map.
func (s *Store) GetPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, herrors.Transport(fmt.Sprintf("etcd get prefix %s", prefix), err)
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out[string(kv.Key)] = string(kv.Value)
	}
	return out, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, key); err != nil {
		return herrors.Transport(fmt.Sprintf("etcd delete %s", key), err)
	}
	return nil
}

// Watch streams updates to key for an operator CLI to follow an audit
// trail (e.g. /haste/clusters/<name>/audit/<task_id>/state) as the
// driver writes checkpoints.
func (s *Store) Watch(ctx context.Context, key string) clientv3.WatchChan {
	return s.client.Watch(ctx, key)
}
