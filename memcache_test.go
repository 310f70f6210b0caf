package quorumlock

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storingServer answers every storage command with STORED and records the
// command lines it received.
type storingServer struct {
	l    net.Listener
	wg   sync.WaitGroup
	mu   sync.Mutex
	cmds []string
}

func newStoringServer(t *testing.T) *storingServer {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &storingServer{l: l}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(func() {
		_ = l.Close()
		s.wg.Wait()
	})
	return s
}

func (s *storingServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.l.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
			for {
				line, err := rw.ReadString('\n')
				if err != nil {
					return
				}
				// skip the data block
				if _, err := rw.ReadString('\n'); err != nil {
					return
				}
				s.mu.Lock()
				s.cmds = append(s.cmds, strings.TrimSpace(line))
				s.mu.Unlock()
				if _, err := rw.WriteString("STORED\r\n"); err != nil {
					return
				}
				if err := rw.Flush(); err != nil {
					return
				}
			}
		}()
	}
}

func (s *storingServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cmds...)
}

func TestMemcacheNode_Expiration(t *testing.T) {
	srv := newStoringServer(t)
	client := memcache.New(srv.l.Addr().String())
	node := NewMemcacheNode(client)
	defer node.Close()
	now := time.Unix(1_700_000_000, 0)
	node.now = func() time.Time { return now }

	ctx := context.Background()
	for _, ttl := range []time.Duration{1500 * time.Millisecond, 30 * 24 * time.Hour, 31 * 24 * time.Hour} {
		ok, err := node.SetIfAbsent(ctx, "orders", "tok", ttl)
		require.NoError(t, err)
		require.True(t, ok)
	}

	absolute := strconv.FormatInt(now.Unix()+31*24*60*60, 10)
	assert.Equal(t, []string{
		"add orders 0 2 3",
		"add orders 0 2592000 3",
		"add orders 0 " + absolute + " 3",
	}, srv.commands())
}

func TestMemcacheNode_ExpirationOutOfRange(t *testing.T) {
	srv := newStoringServer(t)
	node := NewMemcacheNode(memcache.New(srv.l.Addr().String()))
	defer node.Close()

	_, err := node.SetIfAbsent(context.Background(), "orders", "tok", 100*365*24*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, srv.commands())
}

func TestMemcacheDialer_RejectsCredentials(t *testing.T) {
	_, err := MemcacheDialer()(context.Background(), Node{Host: "127.0.0.1", Port: 11211, Password: "secret"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestMemcacheDialer_Unreachable(t *testing.T) {
	// grab a free port and release it so nothing is listening there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	_, err = MemcacheDialer()(context.Background(), Node{Host: "127.0.0.1", Port: port, Timeout: 50 * time.Millisecond})
	assert.Error(t, err)
}

func TestMemcacheManager_UnreachableNodes(t *testing.T) {
	nodes := make([]Node, 3)
	for i := range nodes {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		nodes[i] = Node{Host: "127.0.0.1", Port: l.Addr().(*net.TCPAddr).Port, Timeout: 50 * time.Millisecond}
		require.NoError(t, l.Close())
	}

	var mu sync.Mutex
	var errs []*NodeError
	m, err := New(nodes, MemcacheDialer(),
		WithRetryCount(1),
		WithNodeErrorHandler(func(e *NodeError) {
			mu.Lock()
			errs = append(errs, e)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	defer m.Close()

	h, ok, err := m.Acquire(context.Background(), "orders", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, h)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, errs, 6, "set round and cleanup both fail to dial")
	for _, e := range errs {
		assert.ErrorIs(t, e, ErrNodeConnection)
	}
}
