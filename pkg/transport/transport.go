package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Transport errors
var (
	// ErrTimeout is returned by Read when nothing arrived within the timeout.
	ErrTimeout = errors.New("read timeout")
	// ErrNotOpen is returned when the channel is used before Open or after Close.
	ErrNotOpen = errors.New("transport not open")
)

// Transport is a byte oriented duplex channel to a device.
type Transport interface {
	Open() error
	Write(p []byte) error
	// Read returns between 1 and max bytes, or ErrTimeout when nothing
	// arrived before the timeout elapsed.
	Read(max int, timeout time.Duration) ([]byte, error)
	// Flush discards any unread input.
	Flush() error
	Close() error
}

// LineController is implemented by transports that can drive modem
// control lines. PTT over DTR or RTS uses it.
type LineController interface {
	SetDTR(on bool) error
	SetRTS(on bool) error
}

// Parity setting of a serial line
type Parity string

const (
	ParityNone  Parity = "none"
	ParityOdd   Parity = "odd"
	ParityEven  Parity = "even"
	ParityMark  Parity = "mark"
	ParitySpace Parity = "space"
)

// Handshake setting of a serial line
type Handshake string

const (
	HandshakeNone     Handshake = "none"
	HandshakeHardware Handshake = "hardware"
	HandshakeSoftware Handshake = "software"
)

// Transport types
const (
	TypeSerial  = "serial"
	TypeNetwork = "network"
	TypeNone    = "none"
)

// Config describes how to reach a device.
type Config struct {
	Type      string    `yaml:"type" json:"type"`
	Path      string    `yaml:"path" json:"path"` // device path or host:port
	BaudRate  int       `yaml:"baud_rate" json:"baud_rate"`
	DataBits  int       `yaml:"data_bits" json:"data_bits"`
	StopBits  int       `yaml:"stop_bits" json:"stop_bits"`
	Parity    Parity    `yaml:"parity" json:"parity"`
	Handshake Handshake `yaml:"handshake" json:"handshake"`
	DTR       *bool     `yaml:"dtr" json:"dtr,omitempty"`
	RTS       *bool     `yaml:"rts" json:"rts,omitempty"`
}

// Merge returns c with zero fields taken from defaults.
func (c Config) Merge(defaults Config) Config {
	if c.Type == "" {
		c.Type = defaults.Type
	}
	if c.Path == "" {
		c.Path = defaults.Path
	}
	if c.BaudRate == 0 {
		c.BaudRate = defaults.BaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = defaults.DataBits
	}
	if c.StopBits == 0 {
		c.StopBits = defaults.StopBits
	}
	if c.Parity == "" {
		c.Parity = defaults.Parity
	}
	if c.Handshake == "" {
		c.Handshake = defaults.Handshake
	}
	if c.DTR == nil {
		c.DTR = defaults.DTR
	}
	if c.RTS == nil {
		c.RTS = defaults.RTS
	}
	return c
}

// ResolveType infers the transport type from the path when Type is empty.
func (c Config) ResolveType() string {
	if c.Type != "" {
		return c.Type
	}
	switch {
	case c.Path == "":
		return TypeNone
	case strings.HasPrefix(c.Path, "/"), strings.HasPrefix(strings.ToUpper(c.Path), "COM"):
		return TypeSerial
	case strings.Contains(c.Path, ":"):
		return TypeNetwork
	default:
		return TypeSerial
	}
}

// Validate checks the line settings.
func (c Config) Validate() error {
	switch c.ResolveType() {
	case TypeSerial:
		if c.Path == "" {
			return fmt.Errorf("serial transport requires a device path")
		}
		if c.BaudRate < 0 {
			return fmt.Errorf("invalid baud rate %d", c.BaudRate)
		}
		if c.DataBits != 0 && (c.DataBits < 5 || c.DataBits > 8) {
			return fmt.Errorf("invalid data bits %d", c.DataBits)
		}
		if c.StopBits != 0 && c.StopBits != 1 && c.StopBits != 2 {
			return fmt.Errorf("invalid stop bits %d", c.StopBits)
		}
		switch c.Parity {
		case "", ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace:
		default:
			return fmt.Errorf("invalid parity %q", c.Parity)
		}
		// The serial driver cannot do RTS/CTS or XON/XOFF flow control.
		switch c.Handshake {
		case "", HandshakeNone:
		case HandshakeHardware, HandshakeSoftware:
			return fmt.Errorf("%s handshake is not supported on serial ports, use none", c.Handshake)
		default:
			return fmt.Errorf("invalid handshake %q", c.Handshake)
		}
	case TypeNetwork:
		if c.Path == "" {
			return fmt.Errorf("network transport requires host:port")
		}
	case TypeNone:
	default:
		return fmt.Errorf("unknown transport type %q", c.Type)
	}
	return nil
}

// New creates an unopened transport for the config.
func New(cfg Config) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.ResolveType() {
	case TypeSerial:
		return NewSerial(cfg), nil
	case TypeNetwork:
		return NewNetwork(cfg.Path), nil
	default:
		return NewNull(), nil
	}
}
