package protocol

// Packet ids and handshake states for the server list ping subset.
const (
	IDHandshake      int32 = 0x00
	IDStatusRequest  int32 = 0x00
	IDStatusResponse int32 = 0x00
	IDPing           int32 = 0x01
	IDPong           int32 = 0x01

	StateStatus int32 = 1
	StateLogin  int32 = 2
)

// maxPacketLen bounds a single uncompressed frame. Anything larger is not
// legal in the unauthenticated status subset and is rejected as malformed.
const maxPacketLen = 1 << 21

// Packet is one decoded frame: a packet id plus its body bytes. The body
// aliases the bytes fed to the decoder; the decoder never reuses consumed
// buffers, so bodies stay valid across later Feed calls.
type Packet struct {
	ID   int32
	Body []byte
}

// Encode frames a packet as varint(len) ++ varint(id) ++ body.
func Encode(p Packet) []byte {
	payload := AppendVarint(nil, p.ID)
	payload = append(payload, p.Body...)
	out := AppendVarint(nil, int32(len(payload)))
	return append(out, payload...)
}

// Decoder accumulates bytes across reads and yields complete packets.
// The zero value is ready to use.
type Decoder struct {
	buf []byte
}

// Feed appends chunk to the internal buffer and extracts every complete
// packet currently available. It returns ErrMalformed when the stream cannot
// be a legal frame sequence; the decoder must be discarded after an error.
func (d *Decoder) Feed(chunk []byte) ([]Packet, error) {
	data := append(d.buf, chunk...)
	var pkts []Packet
	off := 0
	for {
		plen, hdr, err := ReadVarint(data[off:])
		if err == errShort {
			break
		}
		if err == nil && (plen <= 0 || plen > maxPacketLen) {
			err = ErrMalformed
		}
		if err != nil {
			d.buf = nil
			return pkts, err
		}
		if len(data)-off < hdr+int(plen) {
			break
		}
		payload := data[off+hdr : off+hdr+int(plen)]
		id, n, err := ReadVarint(payload)
		if err != nil {
			// A complete frame must contain at least a full id varint.
			d.buf = nil
			return pkts, ErrMalformed
		}
		pkts = append(pkts, Packet{ID: id, Body: payload[n:]})
		off += hdr + int(plen)
	}
	// Copy the remainder so emitted bodies never share a backing array with
	// bytes appended by the next Feed.
	d.buf = append([]byte(nil), data[off:]...)
	return pkts, nil
}

// Buffered reports how many undecoded bytes the decoder is holding.
func (d *Decoder) Buffered() int { return len(d.buf) }
