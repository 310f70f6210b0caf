// Package quorumlock implements a majority lock over N independent storage
// nodes. A resource is held when more than half of the nodes accepted a
// set-if-absent of the resource key with a fresh random token, within a
// validity window corrected for elapsed time and clock drift.
package quorumlock

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"
)

const defaultNodeTimeout = 100 * time.Millisecond

// NodeClient is the capability a storage node must provide. Both operations
// must be atomic on the node itself.
type NodeClient interface {
	// SetIfAbsent stores key=value with the given expiry only if key does
	// not exist. It reports whether the value was stored.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only if it currently holds value. It
	// reports whether a deletion happened.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	Close() error
}

// Node describes one storage node. Username and Database are only read by
// backends that need them.
type Node struct {
	Name     string
	Host     string
	Port     int
	Timeout  time.Duration
	Username string
	Password string
	Database string
}

// Dialer connects to a node. Errors returned by a Dialer are reported as
// connection errors.
type Dialer func(ctx context.Context, node Node) (NodeClient, error)

func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

func (n Node) String() string {
	if strings.TrimSpace(n.Name) != "" {
		return n.Name
	}
	return n.Addr()
}

func (n Node) timeout() time.Duration {
	if n.Timeout <= 0 {
		return defaultNodeTimeout
	}
	return n.Timeout
}

// wholeSeconds rounds ttl up to whole seconds for backends whose expiry
// granularity is one second.
func wholeSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
