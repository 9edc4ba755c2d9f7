//go:build linux || darwin

package server

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vacbansry/kvloopd/internal/logging"
	"github.com/vacbansry/kvloopd/internal/store"
)

func startLoop(t *testing.T) (*Loop, int) {
	t.Helper()

	s := store.New(1 << 20)
	log := logging.NewDiscard()

	var loop *Loop
	var port int
	var err error
	for i := 0; i < 10; i++ {
		port = 30000 + i
		loop, err = New(s, log, port)
		if err == nil {
			break
		}
	}
	require.NoError(t, err)

	go func() { _ = loop.Run() }()
	t.Cleanup(func() {
		loop.Stop()
		loop.Join()
		_ = loop.Close()
	})

	return loop, port
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	return nil
}

func TestLoop_SetThenGetRoundTrip(t *testing.T) {
	_, port := startLoop(t)
	conn := dial(t, port)
	defer conn.Close()

	_, err := conn.Write([]byte("SET foo 3\r\nbar\r\n"))
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

func TestLoop_PipelinedCommandsRespondInOrder(t *testing.T) {
	// S6: two complete commands in one segment yield two in-order replies.
	_, port := startLoop(t)
	conn := dial(t, port)
	defer conn.Close()

	_, err := conn.Write([]byte("SET a 1\r\nx\r\nSET b 1\r\ny\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	first, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", first)

	second, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", second)

	_, err = conn.Write([]byte("GET a\r\n"))
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "VALUE x\r\n", line)
}

func TestLoop_DeleteAndNotFound(t *testing.T) {
	_, port := startLoop(t)
	conn := dial(t, port)
	defer conn.Close()

	r := bufio.NewReader(conn)

	_, err := conn.Write([]byte("GET missing\r\n"))
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "NOT_FOUND\r\n", line)

	_, err = conn.Write([]byte("SET k 1\r\nz\r\n"))
	require.NoError(t, err)
	_, err = r.ReadString('\n')
	require.NoError(t, err)

	_, err = conn.Write([]byte("DELETE k\r\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "DELETED\r\n", line)

	_, err = conn.Write([]byte("DELETE k\r\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "NOT_FOUND\r\n", line)
}

func TestLoop_MultipleConnectionsIndependent(t *testing.T) {
	_, port := startLoop(t)

	connA := dial(t, port)
	defer connA.Close()
	connB := dial(t, port)
	defer connB.Close()

	_, err := connA.Write([]byte("SET shared 5\r\nhello\r\n"))
	require.NoError(t, err)
	rA := bufio.NewReader(connA)
	line, err := rA.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", line)

	_, err = connB.Write([]byte("GET shared\r\n"))
	require.NoError(t, err)
	rB := bufio.NewReader(connB)
	line, err = rB.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "VALUE hello\r\n", line)
}
