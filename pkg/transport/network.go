package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

const dialTimeout = 5 * time.Second

// Network is a Transport over TCP, for rigs behind serial servers or
// network-native CAT ports.
type Network struct {
	addr string
	mu   sync.Mutex
	conn net.Conn
}

// NewNetwork creates an unopened TCP transport for host:port.
func NewNetwork(addr string) *Network {
	return &Network{addr: addr}
}

// Open dials the remote endpoint.
func (n *Network) Open() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", n.addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", n.addr, err)
	}
	n.conn = conn
	return nil
}

// Write sends p.
func (n *Network) Write(p []byte) error {
	conn, err := n.current()
	if err != nil {
		return err
	}
	if _, err := conn.Write(p); err != nil {
		return fmt.Errorf("network write: %w", err)
	}
	return nil
}

// Read waits up to timeout for input.
func (n *Network) Read(max int, timeout time.Duration) ([]byte, error) {
	conn, err := n.current()
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("network set deadline: %w", err)
	}
	buf := make([]byte, max)
	c, err := conn.Read(buf)
	if c > 0 {
		return buf[:c], nil
	}
	if isTimeout(err) {
		return nil, ErrTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("network read: %w", err)
	}
	return nil, ErrTimeout
}

// Flush drains whatever is already buffered on the connection.
func (n *Network) Flush() error {
	conn, err := n.current()
	if err != nil {
		return err
	}
	buf := make([]byte, 256)
	for i := 0; i < 64; i++ {
		if err := conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return err
		}
		c, err := conn.Read(buf)
		if isTimeout(err) || c == 0 {
			return nil
		}
		if err != nil {
			return fmt.Errorf("network flush: %w", err)
		}
	}
	return nil
}

// Close closes the connection.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}

func (n *Network) current() (net.Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil, ErrNotOpen
	}
	return n.conn, nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
