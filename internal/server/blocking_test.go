package server

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vacbansry/kvloopd/internal/logging"
	"github.com/vacbansry/kvloopd/internal/store"
	"github.com/vacbansry/kvloopd/internal/workerpool"
)

func startBlockingServer(t *testing.T, maxConns int) (*BlockingServer, string) {
	t.Helper()

	s := store.New(1 << 20)
	var storeMu sync.Mutex
	log := logging.NewDiscard()
	exec := workerpool.New(workerpool.Config{LowWatermark: 1, HighWatermark: 8, MaxQueue: 8})

	b, err := NewBlockingServer(s, &storeMu, log, exec, 0, maxConns, time.Second)
	require.NoError(t, err)

	go func() { _ = b.Run() }()
	t.Cleanup(func() {
		_ = b.Stop()
		exec.Stop(true)
	})

	return b, b.listener.Addr().String()
}

func TestBlockingServer_SetThenGet(t *testing.T) {
	_, addr := startBlockingServer(t, 4)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("SET foo 3\r\nbar\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", line)

	_, err = conn.Write([]byte("GET foo\r\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "VALUE bar\r\n", line)
}

func TestBlockingServer_PipelinedCommands(t *testing.T) {
	_, addr := startBlockingServer(t, 4)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("SET a 1\r\nx\r\nGET a\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	first, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", first)

	second, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "VALUE x\r\n", second)
}
