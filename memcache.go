package quorumlock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcached drops an item written with a negative expiration immediately
const expireNow = -1

// memcached reads expirations above 30 days as absolute unix timestamps
const maxRelativeExpiration = 30 * 24 * 60 * 60

// MemcacheNode stores keys with ADD. Expirations are whole seconds, so a key
// lives up to one second longer on the node than the requested TTL.
//
// gomemcache has no context support; the client's own Timeout bounds each
// call instead.
type MemcacheNode struct {
	client *memcache.Client
	now    func() time.Time
}

func NewMemcacheNode(client *memcache.Client) *MemcacheNode {
	return &MemcacheNode{
		client: client,
		now:    time.Now,
	}
}

func MemcacheDialer() Dialer {
	return func(ctx context.Context, node Node) (NodeClient, error) {
		if node.Username != "" || node.Password != "" {
			return nil, errors.New("memcache nodes do not support credentials")
		}
		client := memcache.New(node.Addr())
		client.Timeout = node.timeout()
		if err := client.Ping(); err != nil {
			return nil, err
		}
		return NewMemcacheNode(client), nil
	}
}

func (m *MemcacheNode) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	exp, err := m.expiration(ttl)
	if err != nil {
		return false, err
	}
	err = m.client.Add(&memcache.Item{
		Key:        key,
		Value:      []byte(value),
		Expiration: exp,
	})
	if err != nil {
		if errors.Is(err, memcache.ErrNotStored) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// expiration converts ttl to memcached's exptime: relative seconds up to 30
// days, an absolute unix timestamp beyond that.
func (m *MemcacheNode) expiration(ttl time.Duration) (int32, error) {
	secs := wholeSeconds(ttl)
	if secs <= maxRelativeExpiration {
		return int32(secs), nil
	}
	at := m.now().Unix() + secs
	if at > math.MaxInt32 {
		return 0, lockError(ErrInvalidArgument, fmt.Sprintf("ttl %s is beyond the memcache expiration range", ttl))
	}
	return int32(at), nil
}

// CompareAndDelete reads the item with its CAS id and, if the value matches,
// overwrites it with an already expired item. The CAS id makes the
// overwrite fail if the item changed after the read.
func (m *MemcacheNode) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	item, err := m.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return false, nil
		}
		return false, err
	}
	if string(item.Value) != value {
		return false, nil
	}

	item.Expiration = expireNow
	if err := m.client.CompareAndSwap(item); err != nil {
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrCacheMiss) || errors.Is(err, memcache.ErrNotStored) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *MemcacheNode) Close() error {
	return m.client.Close()
}
