package sfss

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ktlsim/internal/sfp"
)

func TestServerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "A5"), 0755))

	srv := New(Config{RootDir: dir, Addr: "127.0.0.1:0"})

	// Discover a free port by binding and closing a throwaway listener,
	// then point the server at that address so the client knows where to
	// send.
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	addr := listener.LocalAddr().(*net.UDPAddr)
	require.NoError(t, listener.Close())
	srv.addr = addr.String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	client, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer client.Close()

	req := sfp.Message{Type: sfp.WrReq, Owner: 5, Offset: 0}
	req.SetPath("/A5/file.txt")
	req.SetPayload([]byte("payload1"))
	data, err := req.MarshalBinary()
	require.NoError(t, err)
	_, err = client.Write(data)
	require.NoError(t, err)

	buf := make([]byte, sfp.WireSize())
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)

	var res sfp.Message
	require.NoError(t, res.UnmarshalBinary(buf[:n]))
	require.Equal(t, sfp.WrRep, res.Type)
	require.Equal(t, int32(0), res.Offset)

	cancel()
	<-done
}
