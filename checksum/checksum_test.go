package checksum

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksumZeroBuffer(t *testing.T) {
	buf := make([]byte, 64)
	require.Equal(t, uint16(0), Checksum(buf, 0))
}

func TestChecksumAllOnesIsZero(t *testing.T) {
	// An all-0xff buffer sums, with end-around carry, back to 0xffff.
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 0xff
	}
	require.Equal(t, uint16(0xffff), Checksum(buf, 0))
}

func TestChecksumOddLength(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x02}
	got := Checksum(buf, 0)
	want := Checksum([]byte{0x00, 0x01, 0x02, 0x00}, 0)
	require.Equal(t, want, got)
}

func TestCombineMatchesContiguous(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		n := 2 + r.Intn(60)
		buf := make([]byte, n*2)
		r.Read(buf)

		whole := Checksum(buf, 0)
		a := Checksum(buf[:n], 0)
		b := Checksum(buf[n:], 0)
		require.Equal(t, whole, Combine(a, b))
	}
}

func TestComplementIsInvolution(t *testing.T) {
	var v uint16 = 0x1234
	require.Equal(t, v, Complement(Complement(v)))
}
