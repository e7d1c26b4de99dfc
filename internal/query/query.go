// Package query implements the outbound half of the server list ping: a
// short-lived connection that asks a running instance for its status.
package query

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/loykin/slumber/internal/protocol"
)

// DefaultTimeout bounds connect and the full request/response exchange.
const DefaultTimeout = 4 * time.Second

var (
	// ErrConnect covers refused connections and deadline expiry.
	ErrConnect = errors.New("status query connect failed")
	// ErrClosedEarly means the server hung up before a parseable response.
	ErrClosedEarly = errors.New("connection closed before status response")
)

// Result is one successful status query.
type Result struct {
	Online      int
	Max         int
	Description string
	Version     string
	Latency     time.Duration
}

// Client issues status queries. The zero value uses DefaultTimeout.
type Client struct {
	Timeout time.Duration
}

// Ping connects to host:port, performs handshake(status) + status request,
// and waits for the status response. Latency is wall-clock time from connect
// to parsed response.
func (c *Client) Ping(host string, port int) (Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(start.Add(timeout))

	// Handshake and status request go out pipelined in a single write.
	req := protocol.EncodeHandshake(protocol.Handshake{
		ProtocolVersion: -1,
		Host:            host,
		Port:            uint16(port),
		NextState:       protocol.StateStatus,
	})
	req = append(req, protocol.EncodeStatusRequest()...)
	if _, err := conn.Write(req); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	var dec protocol.Decoder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pkts, perr := dec.Feed(buf[:n])
			if perr != nil {
				return Result{}, fmt.Errorf("%w: %v", ErrClosedEarly, perr)
			}
			for _, pkt := range pkts {
				if pkt.ID != protocol.IDStatusResponse {
					continue
				}
				st, perr := protocol.ParseStatusResponse(pkt.Body)
				if perr != nil {
					return Result{}, fmt.Errorf("%w: %v", ErrClosedEarly, perr)
				}
				return Result{
					Online:      st.Players.Online,
					Max:         st.Players.Max,
					Description: st.Description.Text,
					Version:     st.Version.Name,
					Latency:     time.Since(start),
				}, nil
			}
			continue
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return Result{}, fmt.Errorf("%w: timeout after %s", ErrConnect, timeout)
			}
			return Result{}, fmt.Errorf("%w: %v", ErrClosedEarly, err)
		}
	}
}
