package quorumlock

import (
	"context"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdNode holds each key under its own lease of ceil(ttl) seconds. etcd
// raises leases below its minimum TTL (1.5 * election timeout, 1.5s with
// default settings) to that minimum, so a key may outlive a short TTL by more
// than a second. Validity is still computed from the requested TTL.
type EtcdNode struct {
	prefix string
	kv     clientv3.KV
	lease  clientv3.Lease
	closer func() error
}

func NewEtcdNode(client *clientv3.Client) *EtcdNode {
	return &EtcdNode{
		kv:     client.KV,
		lease:  client.Lease,
		closer: client.Close,
	}
}

func (e *EtcdNode) WithPrefix(prefix string) *EtcdNode {
	e.prefix = strings.TrimRight(prefix, "/")
	return e
}

// EtcdDialer connects to a single etcd endpoint per node. The etcd client
// logs through log; nil keeps it silent.
func EtcdDialer(prefix string, log *zap.Logger) Dialer {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, node Node) (NodeClient, error) {
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   []string{node.Addr()},
			DialTimeout: node.timeout(),
			Username:    node.Username,
			Password:    node.Password,
			Logger:      log.Named("etcd"),
			Context:     context.WithoutCancel(ctx),
		})
		if err != nil {
			return nil, err
		}
		n := NewEtcdNode(client).WithPrefix(prefix)
		if _, err := client.Get(ctx, n.key("ping"), clientv3.WithCountOnly()); err != nil {
			_ = client.Close()
			return nil, err
		}
		return n, nil
	}
}

func (e *EtcdNode) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	grant, err := e.lease.Grant(ctx, wholeSeconds(ttl))
	if err != nil {
		return false, err
	}

	k := e.key(key)
	resp, err := e.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, value, clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil || !resp.Succeeded {
		revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultNodeTimeout)
		_, _ = e.lease.Revoke(revokeCtx, grant.ID)
		cancel()
	}
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (e *EtcdNode) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	k := e.key(key)
	resp, err := e.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(k), "=", value)).
		Then(clientv3.OpDelete(k)).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (e *EtcdNode) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer()
}

func (e *EtcdNode) key(key string) string {
	if e.prefix == "" {
		return key
	}
	return e.prefix + "/" + key
}
