package substrate

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeLinkDeliversInOrder(t *testing.T) {
	a, b, _ := NewFakeLink(
		&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1},
		&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2},
		1,
	)

	require.NoError(t, a.Send([]byte("hello")))
	require.NoError(t, a.Send([]byte("world")))

	got1, err := b.Recv(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got1))

	got2, err := b.Recv(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, "world", string(got2))
}

func TestFakeLinkRecvTimesOut(t *testing.T) {
	_, b, _ := NewFakeLink(
		&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1},
		&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2},
		1,
	)

	_, err := b.Recv(time.Now().Add(10 * time.Millisecond))
	require.Error(t, err)
	require.True(t, IsTimeout(err))
}

func TestFakeLinkRemoteAddr(t *testing.T) {
	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2}
	a, b, _ := NewFakeLink(addrA, addrB, 1)

	require.Equal(t, addrB.String(), a.RemoteAddr().String())
	require.Equal(t, addrA.String(), b.RemoteAddr().String())
}
