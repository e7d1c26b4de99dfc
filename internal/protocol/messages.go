package protocol

import (
	"encoding/binary"

	"github.com/goccy/go-json"
)

// Handshake is the first packet of every connection: intended host/port plus
// the state the client wants to enter next (status or login).
type Handshake struct {
	ProtocolVersion int32
	Host            string
	Port            uint16
	NextState       int32
}

// ParseHandshake decodes a handshake packet body.
func ParseHandshake(body []byte) (Handshake, error) {
	var h Handshake
	v, n, err := ReadVarint(body)
	if err != nil {
		return h, ErrMalformed
	}
	h.ProtocolVersion = v
	body = body[n:]
	host, n, err := ReadString(body)
	if err != nil {
		return h, ErrMalformed
	}
	h.Host = host
	body = body[n:]
	if len(body) < 2 {
		return h, ErrMalformed
	}
	h.Port = binary.BigEndian.Uint16(body[:2])
	body = body[2:]
	st, _, err := ReadVarint(body)
	if err != nil {
		return h, ErrMalformed
	}
	h.NextState = st
	return h, nil
}

// EncodeHandshake frames a handshake packet for the outbound query client.
func EncodeHandshake(h Handshake) []byte {
	body := AppendVarint(nil, h.ProtocolVersion)
	body = AppendString(body, h.Host)
	body = binary.BigEndian.AppendUint16(body, h.Port)
	body = AppendVarint(body, h.NextState)
	return Encode(Packet{ID: IDHandshake, Body: body})
}

// EncodeStatusRequest frames the empty status request packet.
func EncodeStatusRequest() []byte {
	return Encode(Packet{ID: IDStatusRequest})
}

// Status is the JSON document carried by a status response.
type Status struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
	} `json:"players"`
	Description struct {
		Text string `json:"text"`
	} `json:"description"`
}

// NewStatus builds a status document with the given description and players.
func NewStatus(description string, online, max int) Status {
	var s Status
	s.Version.Name = "slumber"
	s.Version.Protocol = -1
	s.Players.Online = online
	s.Players.Max = max
	s.Description.Text = description
	return s
}

// EncodeStatusResponse frames a status response carrying s as its JSON body.
func EncodeStatusResponse(s Status) ([]byte, error) {
	doc, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	body := AppendVarint(nil, int32(len(doc)))
	body = append(body, doc...)
	return Encode(Packet{ID: IDStatusResponse, Body: body}), nil
}

// ParseStatusResponse decodes a status response packet body.
func ParseStatusResponse(body []byte) (Status, error) {
	var s Status
	doc, _, err := ReadString(body)
	if err != nil {
		return s, ErrMalformed
	}
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return s, ErrMalformed
	}
	return s, nil
}

// EncodePong frames a pong packet echoing the 8-byte ping payload.
func EncodePong(payload []byte) []byte {
	return Encode(Packet{ID: IDPong, Body: payload})
}
