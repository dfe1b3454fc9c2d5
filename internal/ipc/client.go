package ipc

import (
	"fmt"
	"net"
	"time"
)

// Client is a synchronous IPC client for the control socket.
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

// Dial connects to the daemon socket.
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends a request and waits for the response. An MsgError response is
// surfaced as an error.
func (c *Client) Call(t MessageType, payload any) (*Message, error) {
	req, err := NewMessage(t, payload)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		deadline := time.Now().Add(c.timeout)
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	if err := WriteMessage(c.conn, req); err != nil {
		return nil, fmt.Errorf("ipc: write request: %w", err)
	}

	resp, err := ReadMessage(c.conn)
	if err != nil {
		return nil, fmt.Errorf("ipc: read response: %w", err)
	}

	if resp.Type == MsgError {
		var e ErrorResponse
		if err := resp.Decode(&e); err != nil {
			return nil, fmt.Errorf("ipc: daemon error (undecodable)")
		}
		return nil, fmt.Errorf("ipc: daemon error: %s", e.Error)
	}
	return resp, nil
}
