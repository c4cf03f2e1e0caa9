package commands

import (
	"fmt"
	"math"
	"net"

	"github.com/cray-hpe/powerapid/internal/wire"
)

// roleClient and roleResourceManager mirror arb.Role's wire values without
// importing the daemon's internal package from the CLI binary.
const (
	roleClient          = 1
	roleResourceManager = 2
)

// client is a short-lived connection to the rendezvous socket: dial,
// AUTH, issue exactly one further request, read its reply, disconnect.
// The daemon's reply sequencing is per-session and this CLI never holds a
// session open across commands, so the one SET a session issues always
// replies with sequence 0; set prints it as received.
type client struct {
	conn *net.UnixConn
}

func dialAndAuth(socketPath string, role uint8, contextName string) (*client, error) {
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", socketPath, err)
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}

	c := &client{conn: conn}
	resp, err := c.roundTrip(wire.Request{
		Type: wire.ReqAuth,
		Auth: wire.AuthPayload{Role: role, ContextName: contextName},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	if resp.Code != wire.CodeSuccess {
		conn.Close()
		return nil, fmt.Errorf("auth rejected: %s", resp.Code)
	}
	return c, nil
}

func (c *client) roundTrip(req wire.Request) (wire.Response, error) {
	if err := wire.EncodeRequest(c.conn, req); err != nil {
		return wire.Response{}, fmt.Errorf("encode request: %w", err)
	}
	resp, err := wire.DecodeResponse(c.conn)
	if err != nil {
		return wire.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}

// bitsFromFloat64 reinterprets a float64 as the wire's u64 union member,
// the inverse of the daemon's float64FromBits.
func bitsFromFloat64(f float64) uint64 {
	return math.Float64bits(f)
}
