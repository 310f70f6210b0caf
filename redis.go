package quorumlock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisNode struct {
	prefix string
	client *redis.Client
}

func NewRedisNode(client *redis.Client) *RedisNode {
	return &RedisNode{
		client: client,
	}
}

// WithPrefix namespaces every key written by the node as prefix:key.
func (r *RedisNode) WithPrefix(prefix string) *RedisNode {
	r.prefix = strings.TrimRight(prefix, ":")
	return r
}

// RedisDialer connects with the node's address, password and timeout and
// pings once so that unreachable nodes and rejected credentials fail here.
func RedisDialer(prefix string) Dialer {
	return func(ctx context.Context, node Node) (NodeClient, error) {
		client := redis.NewClient(&redis.Options{
			Addr:         node.Addr(),
			Username:     node.Username,
			Password:     node.Password,
			DialTimeout:  node.timeout(),
			ReadTimeout:  node.timeout(),
			WriteTimeout: node.timeout(),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		return NewRedisNode(client).WithPrefix(prefix), nil
	}
}

func (r *RedisNode) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), value, ttl).Result()
}

func (r *RedisNode) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, r.client, []string{r.key(key)}, value).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return n == 1, nil
}

func (r *RedisNode) Close() error {
	return r.client.Close()
}

func (r *RedisNode) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}
