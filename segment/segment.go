// Package segment implements the fixed-layout wire segment shared by every
// connection: encoding, decoding and checksum verification. The codec is
// pure — it never touches the datagram substrate itself.
package segment

import (
	"encoding/binary"
	"errors"

	"github.com/gorudt/rudt/checksum"
)

// Flags that may be set in a segment.
const (
	FlagFin = 1 << iota
	FlagSyn
	FlagRst
	FlagPsh
	FlagAck
	FlagUrg
)

const (
	offSrcPort  = 0
	offDstPort  = 2
	offSeqNum   = 4
	offAckNum   = 8
	offDataOff  = 12
	offFlags    = 13
	offWindow   = 14
	offChecksum = 16
	offUrgPtr   = 18
	offPayload  = 20

	// MaxPayloadSize is the maximum number of payload bytes a segment can
	// carry, i.e. the protocol's maximum segment size.
	MaxPayloadSize = 44

	// Size is the fixed wire size of a segment in bytes.
	Size = offPayload + MaxPayloadSize

	// dataOffsetWords is the header length in 32-bit words; the header
	// never carries options, so it is always fixed at offPayload/4 words.
	dataOffsetWords = offPayload / 4
)

// ErrMalformed is returned by Decode when the buffer is shorter than the
// fixed segment size.
var ErrMalformed = errors.New("segment: malformed segment")

// ErrReservedBitsSet is returned by Decode when the reserved low nibble of
// the data-offset byte is non-zero.
var ErrReservedBitsSet = errors.New("segment: reserved bits set")

// Segment is the decoded, in-memory form of a wire segment.
type Segment struct {
	SourcePort    uint16
	DestPort      uint16
	SeqNum        uint32
	AckNum        uint32
	Flags         uint8
	WindowSize    uint16
	Checksum      uint16
	UrgentPointer uint16
	Payload       []byte
}

// HasFlag reports whether every bit in mask is set in the segment's flags.
func (s *Segment) HasFlag(mask uint8) bool {
	return s.Flags&mask == mask
}

// encodeRaw renders s into a newly allocated Size-byte wire buffer with the
// checksum field left zeroed.
func encodeRaw(s *Segment) []byte {
	buf := make([]byte, Size)

	binary.BigEndian.PutUint16(buf[offSrcPort:], s.SourcePort)
	binary.BigEndian.PutUint16(buf[offDstPort:], s.DestPort)
	binary.BigEndian.PutUint32(buf[offSeqNum:], s.SeqNum)
	binary.BigEndian.PutUint32(buf[offAckNum:], s.AckNum)
	buf[offDataOff] = dataOffsetWords << 4
	buf[offFlags] = s.Flags
	binary.BigEndian.PutUint16(buf[offWindow:], s.WindowSize)
	binary.BigEndian.PutUint16(buf[offUrgPtr:], s.UrgentPointer)

	n := copy(buf[offPayload:], s.Payload)
	if n < MaxPayloadSize {
		// NUL terminator within the zero-padded tail lets the receiver
		// recover the payload length (see Decode).
		buf[offPayload+n] = 0
	}

	return buf
}

// Encode renders s into a newly allocated Size-byte wire buffer, computing
// and filling in the checksum field.
func Encode(s *Segment) []byte {
	buf := encodeRaw(s)
	sum := computeChecksum(buf)
	binary.BigEndian.PutUint16(buf[offChecksum:], sum)
	return buf
}

// Decode parses a wire buffer into a Segment. It fails with ErrMalformed if
// buf is shorter than Size, and with ErrReservedBitsSet if the reserved
// nibble of the data-offset byte is non-zero. Decode does not itself verify
// the checksum; call Verify for that.
func Decode(buf []byte) (*Segment, error) {
	if len(buf) < Size {
		return nil, ErrMalformed
	}

	if buf[offDataOff]&0x0f != 0 {
		return nil, ErrReservedBitsSet
	}

	s := &Segment{
		SourcePort:    binary.BigEndian.Uint16(buf[offSrcPort:]),
		DestPort:      binary.BigEndian.Uint16(buf[offDstPort:]),
		SeqNum:        binary.BigEndian.Uint32(buf[offSeqNum:]),
		AckNum:        binary.BigEndian.Uint32(buf[offAckNum:]),
		Flags:         buf[offFlags],
		WindowSize:    binary.BigEndian.Uint16(buf[offWindow:]),
		Checksum:      binary.BigEndian.Uint16(buf[offChecksum:]),
		UrgentPointer: binary.BigEndian.Uint16(buf[offUrgPtr:]),
	}

	payload := buf[offPayload : offPayload+MaxPayloadSize]
	if i := indexNUL(payload); i >= 0 {
		s.Payload = append([]byte(nil), payload[:i]...)
	} else {
		s.Payload = append([]byte(nil), payload...)
	}

	return s, nil
}

// indexNUL returns the index of the first 0x00 byte in buf, or -1 if none.
func indexNUL(buf []byte) int {
	for i, b := range buf {
		if b == 0 {
			return i
		}
	}
	return -1
}

// computeChecksum computes the one's-complement checksum over the entire
// Size-byte wire buffer, which must already have its checksum field
// zeroed.
func computeChecksum(buf []byte) uint16 {
	return checksum.Complement(checksum.Checksum(buf, 0))
}

// ComputeChecksum computes the checksum that should appear in s's wire
// encoding, as if the checksum field were zero.
func ComputeChecksum(s *Segment) uint16 {
	return computeChecksum(encodeRaw(s))
}

// Verify re-zeroes the checksum field of a decoded Segment, recomputes it
// over the wire representation, and reports whether it matches the
// transmitted value.
func Verify(s *Segment) bool {
	return ComputeChecksum(s) == s.Checksum
}

