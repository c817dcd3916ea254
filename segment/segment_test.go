package segment

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomSegment(r *rand.Rand) *Segment {
	payload := make([]byte, r.Intn(MaxPayloadSize))
	for i := range payload {
		// Avoid the NUL terminator so round-tripping is exact: the wire
		// format has no explicit length field.
		payload[i] = byte(1 + r.Intn(255))
	}
	return &Segment{
		SourcePort:    uint16(r.Uint32()),
		DestPort:      uint16(r.Uint32()),
		SeqNum:        r.Uint32(),
		AckNum:        r.Uint32(),
		Flags:         byte(r.Intn(64)),
		WindowSize:    uint16(r.Uint32()),
		UrgentPointer: uint16(r.Uint32()),
		Payload:       payload,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		s := randomSegment(r)
		buf := Encode(s)
		require.Len(t, buf, Size)

		got, err := Decode(buf)
		require.NoError(t, err)

		require.Equal(t, s.SourcePort, got.SourcePort)
		require.Equal(t, s.DestPort, got.DestPort)
		require.Equal(t, s.SeqNum, got.SeqNum)
		require.Equal(t, s.AckNum, got.AckNum)
		require.Equal(t, s.Flags, got.Flags)
		require.Equal(t, s.WindowSize, got.WindowSize)
		require.Equal(t, s.UrgentPointer, got.UrgentPointer)
		require.Equal(t, s.Payload, got.Payload)
		require.True(t, Verify(got))

		// decode(encode(decode(encode(s)))) is a fixed point.
		buf2 := Encode(got)
		require.Equal(t, buf, buf2)
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, Size-1))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsReservedBits(t *testing.T) {
	buf := Encode(&Segment{Flags: FlagSyn})
	buf[offDataOff] |= 0x01
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrReservedBitsSet)
}

func TestVerifyDetectsCorruption(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		s := randomSegment(r)
		buf := Encode(s)

		// Flip a single bit within the header or the populated payload,
		// outside the checksum field and the reserved nibble (which Decode
		// rejects outright). Bytes past the populated payload are
		// zero-padding that Decode truncates away and Encode regenerates
		// identically, so flipping one there is invisible to Verify.
		validRange := offPayload + len(s.Payload)
		bit := r.Intn(validRange * 8)
		byteIdx, bitIdx := bit/8, bit%8
		if byteIdx == offChecksum || byteIdx == offChecksum+1 {
			byteIdx = 0
		}
		if byteIdx == offDataOff && bitIdx < 4 {
			bitIdx += 4
		}
		buf[byteIdx] ^= 1 << bitIdx

		got, err := Decode(buf)
		require.NoError(t, err)
		require.False(t, Verify(got), "flipping byte %d bit %d should invalidate checksum", byteIdx, bitIdx)
	}
}

func TestHasFlag(t *testing.T) {
	s := &Segment{Flags: FlagSyn | FlagAck}
	require.True(t, s.HasFlag(FlagSyn))
	require.True(t, s.HasFlag(FlagAck))
	require.True(t, s.HasFlag(FlagSyn|FlagAck))
	require.False(t, s.HasFlag(FlagFin))
	require.False(t, s.HasFlag(FlagSyn|FlagFin))
}
