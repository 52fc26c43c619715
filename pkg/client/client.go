package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dougsko/rigd/pkg/protocol"
)

// SocketClient talks to rigd over its Unix or TCP socket, one
// connection per command.
type SocketClient struct {
	network string
	address string
	timeout time.Duration
}

// Error is a command failure reported by the daemon.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// NewSocketClient creates a client. An address containing a slash is a
// Unix socket path, anything else a TCP host:port.
func NewSocketClient(address string) *SocketClient {
	network := "tcp"
	if strings.Contains(address, "/") {
		network = "unix"
	}
	return &SocketClient{
		network: network,
		address: address,
		timeout: 5 * time.Second,
	}
}

// SetTimeout changes the per-command deadline.
func (c *SocketClient) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout(c.network, c.address, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.address, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return &response, nil
}

// Do sends cmd and returns the reply data, or an *Error when the daemon
// reports a failure.
func (c *SocketClient) Do(cmd string) (map[string]interface{}, error) {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &Error{Code: resp.Code, Message: resp.Error}
	}
	return resp.Data, nil
}

// decode re-marshals one reply field into dst.
func decode(data map[string]interface{}, key string, dst interface{}) error {
	v, ok := data[key]
	if !ok {
		return fmt.Errorf("%s not found in response", key)
	}
	raw, _ := json.Marshal(v)
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return nil
}

// GetStatus gets the current daemon status
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	data, err := c.Do(protocol.CmdStatus)
	if err != nil {
		return nil, err
	}
	var status protocol.Status
	if err := decode(data, "status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetFreq returns the frequency of the current VFO.
func (c *SocketClient) GetFreq() (int64, error) {
	data, err := c.Do("get_freq")
	if err != nil {
		return 0, err
	}
	var hz int64
	err = decode(data, "freq", &hz)
	return hz, err
}

// SetFreq tunes the current VFO.
func (c *SocketClient) SetFreq(hz int64) error {
	_, err := c.Do(fmt.Sprintf("set_freq %d", hz))
	return err
}

// GetMode returns the mode and passband of the current VFO.
func (c *SocketClient) GetMode() (string, int, error) {
	data, err := c.Do("get_mode")
	if err != nil {
		return "", 0, err
	}
	var mode string
	var width int
	if err := decode(data, "mode", &mode); err != nil {
		return "", 0, err
	}
	err = decode(data, "width", &width)
	return mode, width, err
}

// SetMode sets the mode; width 0 keeps the rig default.
func (c *SocketClient) SetMode(mode string, width int) error {
	_, err := c.Do(fmt.Sprintf("set_mode %s %d", mode, width))
	return err
}

// SetPTT keys or unkeys the transmitter.
func (c *SocketClient) SetPTT(on bool) error {
	v := 0
	if on {
		v = 1
	}
	_, err := c.Do(fmt.Sprintf("set_ptt %d", v))
	return err
}

// GetPosition returns the rotator azimuth and elevation.
func (c *SocketClient) GetPosition() (az, el float64, err error) {
	data, err := c.Do("get_pos")
	if err != nil {
		return 0, 0, err
	}
	if err := decode(data, "az", &az); err != nil {
		return 0, 0, err
	}
	err = decode(data, "el", &el)
	return az, el, err
}

// SetPosition turns the rotator.
func (c *SocketClient) SetPosition(az, el float64) error {
	_, err := c.Do(fmt.Sprintf("set_pos %g %g", az, el))
	return err
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	_, err := c.Do(protocol.CmdPing)
	return err
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}
