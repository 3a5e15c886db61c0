package guard

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iwanhae/tcp-guard/types"
)

type scripted struct {
	io.Reader
	bytes.Buffer
}

func (s *scripted) Read(p []byte) (int, error) { return s.Reader.Read(p) }

func TestHandler_StreamEchoesAfterBanner(t *testing.T) {
	g, _, _ := newTestGuard(t)
	h := NewHandler(g, WithReadBuffer(4))

	input := "hello, guarded world"
	rw := &scripted{Reader: strings.NewReader(input)}
	state, err := h.Stream(context.Background(), "10.0.0.1", rw)
	require.NoError(t, err)
	require.Equal(t, StateClosedNormal, state)
	require.Equal(t, Banner+input, rw.String())
}

func TestHandler_StreamStopsOverTraffic(t *testing.T) {
	g, _, _ := newTestGuard(t)
	h := NewHandler(g, WithReadBuffer(64))

	input := strings.Repeat("x", 150)
	rw := &scripted{Reader: strings.NewReader(input)}
	state, err := h.Stream(context.Background(), "10.0.0.1", rw)
	require.ErrorIs(t, err, ErrTrafficExceeded)
	require.Equal(t, StateClosedBlocked, state)

	// The chunk that crossed the threshold is not echoed.
	require.Equal(t, Banner+input[:64], rw.String())

	blocked, err := g.Blocks.IsBlocked(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.True(t, blocked)
}

func TestHandler_ServeRefusesBlockedSourceWithoutBanner(t *testing.T) {
	g, _, _ := newTestGuard(t)
	h := NewHandler(g)
	ctx := context.Background()

	server, client := net.Pipe()
	source := SourceOf(server.RemoteAddr())
	require.NoError(t, g.Blocks.Block(ctx, source, time.Minute, types.ReasonRateLimit))

	done := make(chan State, 1)
	go func() { done <- h.Serve(ctx, server) }()

	buf := make([]byte, 1)
	_, err := client.Read(buf)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, StateClosedBlocked, <-done)
}

func TestHandler_ServeClosesIdleConnection(t *testing.T) {
	g, _, _ := newTestGuard(t)
	h := NewHandler(g, WithIdleTimeout(50*time.Millisecond))

	server, client := net.Pipe()
	defer client.Close()

	done := make(chan State, 1)
	go func() { done <- h.Serve(context.Background(), server) }()

	banner := make([]byte, len(Banner))
	_, err := io.ReadFull(client, banner)
	require.NoError(t, err)
	require.Equal(t, Banner, string(banner))

	select {
	case state := <-done:
		require.Equal(t, StateClosedNormal, state)
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was not closed")
	}
}

func TestHandler_StreamTreatsLocalCloseAsNormal(t *testing.T) {
	g, _, _ := newTestGuard(t)
	h := NewHandler(g)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	server, err := ln.Accept()
	require.NoError(t, err)

	type result struct {
		state State
		err   error
	}
	done := make(chan result, 1)
	go func() {
		state, err := h.Stream(context.Background(), SourceOf(server.RemoteAddr()), server)
		done <- result{state, err}
	}()

	banner := make([]byte, len(Banner))
	_, err = io.ReadFull(client, banner)
	require.NoError(t, err)
	require.NoError(t, server.Close())

	select {
	case res := <-done:
		require.Equal(t, StateClosedNormal, res.state)
		require.NoError(t, res.err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after close")
	}
}

func TestSourceOf(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want string
	}{
		{name: "ipv4", addr: &net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 5000}, want: "10.1.2.3"},
		{name: "ipv6", addr: &net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 5000}, want: "2001:db8::1"},
		{name: "nil", addr: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SourceOf(tt.addr))
		})
	}
}

func TestState_String(t *testing.T) {
	require.Equal(t, "closed_blocked", StateClosedBlocked.String())
	require.Equal(t, "unknown", State(42).String())
}
