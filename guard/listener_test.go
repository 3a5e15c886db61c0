package guard

import (
	"net"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/iwanhae/tcp-guard/metrics"
)

type mockListener struct {
	conns chan net.Conn
}

func newMockListener() *mockListener {
	return &mockListener{conns: make(chan net.Conn, 16)}
}

func (m *mockListener) Accept() (net.Conn, error) {
	conn, ok := <-m.conns
	if !ok {
		return nil, net.ErrClosed
	}
	return conn, nil
}

func (m *mockListener) Close() error { return nil }

func (m *mockListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
}

type mockConn struct {
	net.Conn
	closed atomic.Bool
}

func (m *mockConn) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 40000}
}

func TestLimitListener_MaxConnections(t *testing.T) {
	ml := newMockListener()
	m := metrics.New()
	l := NewLimitListener(ml, WithMaxConnections(2), WithListenerMetrics(m))

	first, second, over := &mockConn{}, &mockConn{}, &mockConn{}
	ml.conns <- first
	ml.conns <- second
	ml.conns <- over
	close(ml.conns)

	c1, err := l.Accept()
	require.NoError(t, err)
	c2, err := l.Accept()
	require.NoError(t, err)
	require.Equal(t, 2, l.Active())
	require.Equal(t, "192.0.2.1", SourceOf(c1.RemoteAddr()))

	_, err = l.Accept()
	require.ErrorIs(t, err, net.ErrClosed)
	require.True(t, over.closed.Load(), "connection over the cap must be closed")
	require.False(t, first.closed.Load())
	n, err := testutil.GatherAndCount(m.Registry(), "tcpguard_listener_rejected_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Closing twice frees one slot.
	require.NoError(t, c1.Close())
	require.NoError(t, c1.Close())
	require.Equal(t, 1, l.Active())
	require.NoError(t, c2.Close())
	require.Zero(t, l.Active())
}

func TestLimitListener_AcceptRate(t *testing.T) {
	ml := newMockListener()
	l := NewLimitListener(ml, WithAcceptRate(1))

	conns := []*mockConn{{}, {}, {}}
	for _, c := range conns {
		ml.conns <- c
	}
	close(ml.conns)

	_, err := l.Accept()
	require.NoError(t, err)

	// Burst is one, so the next two arrive too fast and get dropped.
	_, err = l.Accept()
	require.ErrorIs(t, err, net.ErrClosed)
	require.True(t, conns[1].closed.Load())
	require.True(t, conns[2].closed.Load())
}
