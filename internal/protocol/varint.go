package protocol

import "errors"

// ErrMalformed is returned when the byte stream violates the framing rules
// (varint longer than 5 bytes, negative length, string exceeding its frame).
var ErrMalformed = errors.New("malformed packet data")

// errShort signals that more bytes are needed before a value can be decoded.
// It never escapes the package; incremental callers treat it as "wait".
var errShort = errors.New("short buffer")

// maxVarintBytes caps the encoding at 32 bits of payload (5 groups of 7 bits).
const maxVarintBytes = 5

// AppendVarint appends v encoded as a little-endian-grouped 7-bit varint.
// Negative values take the full 5 bytes, matching the wire format's
// two's-complement handling of 32-bit integers.
func AppendVarint(dst []byte, v int32) []byte {
	u := uint32(v)
	for {
		b := byte(u & 0x7f)
		u >>= 7
		if u != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		return append(dst, b)
	}
}

// ReadVarint decodes a varint from the head of buf and returns the value and
// the number of bytes consumed. It returns errShort when buf ends inside a
// continuation sequence and ErrMalformed when the sequence exceeds 5 bytes.
func ReadVarint(buf []byte) (int32, int, error) {
	var u uint32
	for i := 0; i < len(buf); i++ {
		if i >= maxVarintBytes {
			return 0, 0, ErrMalformed
		}
		b := buf[i]
		u |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return int32(u), i + 1, nil
		}
	}
	if len(buf) >= maxVarintBytes {
		return 0, 0, ErrMalformed
	}
	return 0, 0, errShort
}

// AppendString appends a length-prefixed UTF-8 string.
func AppendString(dst []byte, s string) []byte {
	dst = AppendVarint(dst, int32(len(s)))
	return append(dst, s...)
}

// ReadString decodes a length-prefixed string from the head of buf.
func ReadString(buf []byte) (string, int, error) {
	n, hdr, err := ReadVarint(buf)
	if err != nil {
		return "", 0, err
	}
	if n < 0 {
		return "", 0, ErrMalformed
	}
	if len(buf) < hdr+int(n) {
		return "", 0, errShort
	}
	return string(buf[hdr : hdr+int(n)]), hdr + int(n), nil
}
