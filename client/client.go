// Package client is a minimal Go client for the lsmkv wire protocol,
// wrapping Get/Set over a net.Conn the same way the teacher pairs
// Log.Encode/Decode for its WAL records.
package client

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bureau/lsmkv/internal/protocol"
)

// Client is a connection to one lsmkv server. It is safe for concurrent use;
// requests are serialized over the single underlying connection.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to addr with the given timeout.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Get fetches key, returning (value, true, nil) on a hit, (nil, false, nil)
// on a clean miss, or a non-nil error for protocol/transport failures.
func (c *Client) Get(key []byte) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := protocol.WriteFrame(c.conn, protocol.EncodeGet(key)); err != nil {
		return nil, false, fmt.Errorf("client: get: write: %w", err)
	}

	resp, err := c.readResponse()
	if err != nil {
		return nil, false, fmt.Errorf("client: get: %w", err)
	}

	switch resp.Op {
	case protocol.RespOkValue:
		return resp.Value, true, nil
	case protocol.RespError:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("client: get: unexpected response op %#x", resp.Op)
	}
}

// Set stores (key, value), returning a non-nil error if the server rejected
// it or the round trip failed.
func (c *Client) Set(key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := protocol.WriteFrame(c.conn, protocol.EncodeSet(key, value)); err != nil {
		return fmt.Errorf("client: set: write: %w", err)
	}

	resp, err := c.readResponse()
	if err != nil {
		return fmt.Errorf("client: set: %w", err)
	}

	switch resp.Op {
	case protocol.RespOk:
		return nil
	case protocol.RespError:
		return fmt.Errorf("client: set: server error: %s", resp.Message)
	default:
		return fmt.Errorf("client: set: unexpected response op %#x", resp.Op)
	}
}

func (c *Client) readResponse() (protocol.Response, error) {
	payload, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("read: %w", err)
	}
	resp, err := protocol.DecodeResponse(payload)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("decode: %w", err)
	}
	return resp, nil
}
