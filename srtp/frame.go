// Package srtp implements the wire-level framing used by GE/Emerson's
// Service Request Transfer Protocol (SRTP), the undocumented TCP protocol
// spoken by PACSystems PLCs on port 18245/18246.
//
// The protocol has no public specification. The byte layout below was
// reverse engineered against real PLC firmware; every constant offset is
// empirically required and must be reproduced bit-exact or the PLC will
// refuse or hang the session.
package srtp

import "encoding/binary"

// HeaderLen is the fixed length, in bytes, of every SRTP frame header.
const HeaderLen = 56

// MemoryArea is the one-byte code a PLC uses to identify a memory area on
// the wire. Code values are assigned in config.AreaCode.
type MemoryArea uint8

// Frame type tags, found in byte 0 of any frame received from the PLC.
const (
	// FrameHandshakeAck is the response to the all-zero handshake frame.
	FrameHandshakeAck = byte(0x01)
	// FrameInterimAck is a preliminary acknowledgement that precedes the
	// real data/complete response and must be discarded.
	FrameInterimAck = byte(0x02)
	// FrameData is a data or session-complete response.
	FrameData = byte(0x03)
)

// BuildHandshakeFrame1 is the first frame of the SRTP handshake: 56 zero
// bytes. The PLC is expected to answer with a frame whose byte 0 is
// FrameHandshakeAck.
func BuildHandshakeFrame1() []byte {
	return make([]byte, HeaderLen)
}

// srtpSessionFramePrefix holds the first four bytes of the second handshake
// frame: 08 00 01 00. These are the only bytes BuildHandshakeFrame2 sets;
// the remaining 52 bytes of the frame are sent as zero. See DESIGN.md for
// why no other bytes of the session frame are filled in.
var srtpSessionFramePrefix = [4]byte{0x08, 0x00, 0x01, 0x00}

// BuildHandshakeFrame2 is the second, "session", frame of the SRTP
// handshake. The PLC is expected to answer with a frame whose byte 0 is
// FrameData.
func BuildHandshakeFrame2() []byte {
	buf := make([]byte, HeaderLen)
	copy(buf, srtpSessionFramePrefix[:])
	return buf
}

// BuildDisconnectFrame is the graceful-disconnect frame: 56 zero bytes,
// sent best-effort before the TCP connection is closed.
func BuildDisconnectFrame() []byte {
	return make([]byte, HeaderLen)
}

// BuildReadRequest encodes a read-memory request for count words starting
// at the 1-based plcStart offset of the given memory area.
func BuildReadRequest(seq uint16, plcStart uint16, count uint16, area MemoryArea) []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = 0x02
	buf[2] = byte(seq)
	buf[9] = 0x01
	buf[17] = 0x01
	buf[30] = byte(seq)
	buf[31] = 0xC0
	buf[36] = 0x10
	buf[37] = 0x0E
	buf[40] = 0x01
	buf[41] = 0x01
	buf[42] = 0x04
	buf[43] = byte(area)
	binary.LittleEndian.PutUint16(buf[44:46], plcStart-1)
	binary.LittleEndian.PutUint16(buf[46:48], count)
	buf[48] = 0x01
	buf[49] = 0x01
	return buf
}

// BuildWriteRequest encodes a write-memory request for the given words,
// starting at the 1-based plcStart offset of the given memory area. The
// returned buffer is HeaderLen + len(values)*2 bytes: the 56-byte header
// followed immediately by the little-endian word payload.
func BuildWriteRequest(seq uint16, plcStart uint16, values []uint16, area MemoryArea) []byte {
	count := len(values)
	buf := make([]byte, HeaderLen+count*2)
	buf[0] = 0x02
	binary.LittleEndian.PutUint16(buf[4:6], uint16(count*2))
	buf[2] = byte(seq)
	buf[9] = 0x02
	buf[17] = 0x02
	buf[30] = byte(seq)
	buf[31] = 0x80
	buf[36] = 0x10
	buf[37] = 0x0E
	buf[40] = 0x01
	buf[41] = 0x01
	buf[42] = 0x32
	buf[48] = 0x01
	buf[49] = 0x01
	buf[50] = 0x07
	buf[51] = byte(area)
	binary.LittleEndian.PutUint16(buf[52:54], plcStart-1)
	binary.LittleEndian.PutUint16(buf[54:56], uint16(count))

	payload := buf[HeaderLen:]
	for i, v := range values {
		binary.LittleEndian.PutUint16(payload[i*2:i*2+2], v)
	}
	return buf
}

// ParseDataWords extracts count little-endian words from the payload of a
// FrameData response of the given length. frame must be HeaderLen+count*2
// bytes; ParseDataWords does not re-check the frame type byte.
func ParseDataWords(frame []byte, count int) []uint16 {
	words := make([]uint16, count)
	payload := frame[HeaderLen:]
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(payload[i*2 : i*2+2])
	}
	return words
}

// ByteSwap reverses the byte order of a 16-bit word, used to reconcile PLC
// (little-endian on the wire) and Modbus (big-endian-presented) word
// halves when a mapping has SwapBytes set.
func ByteSwap(w uint16) uint16 {
	return w<<8 | w>>8
}
