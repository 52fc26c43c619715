package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial is a Transport over a local serial port.
type Serial struct {
	cfg  Config
	mu   sync.Mutex
	port serial.Port
}

// NewSerial creates an unopened serial transport.
func NewSerial(cfg Config) *Serial {
	return &Serial{cfg: cfg}
}

func (s *Serial) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: s.cfg.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = 9600
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	switch s.cfg.Parity {
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityMark:
		mode.Parity = serial.MarkParity
	case ParitySpace:
		mode.Parity = serial.SpaceParity
	}
	if s.cfg.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	if s.cfg.DTR != nil || s.cfg.RTS != nil {
		bits := &serial.ModemOutputBits{DTR: true, RTS: true}
		if s.cfg.DTR != nil {
			bits.DTR = *s.cfg.DTR
		}
		if s.cfg.RTS != nil {
			bits.RTS = *s.cfg.RTS
		}
		mode.InitialStatusBits = bits
	}
	return mode
}

// Open opens the serial device.
func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}
	port, err := serial.Open(s.cfg.Path, s.mode())
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.cfg.Path, err)
	}
	s.port = port
	return nil
}

// Write sends p.
func (s *Serial) Write(p []byte) error {
	port, err := s.current()
	if err != nil {
		return err
	}
	for len(p) > 0 {
		n, err := port.Write(p)
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
		p = p[n:]
	}
	return nil
}

// Read waits up to timeout for input.
func (s *Serial) Read(max int, timeout time.Duration) ([]byte, error) {
	port, err := s.current()
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, fmt.Errorf("serial set timeout: %w", err)
	}
	buf := make([]byte, max)
	n, err := port.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("serial read: %w", err)
	}
	if n == 0 {
		return nil, ErrTimeout
	}
	return buf[:n], nil
}

// Flush discards unread input.
func (s *Serial) Flush() error {
	port, err := s.current()
	if err != nil {
		return err
	}
	return port.ResetInputBuffer()
}

// SetDTR drives the DTR line.
func (s *Serial) SetDTR(on bool) error {
	port, err := s.current()
	if err != nil {
		return err
	}
	return port.SetDTR(on)
}

// SetRTS drives the RTS line.
func (s *Serial) SetRTS(on bool) error {
	port, err := s.current()
	if err != nil {
		return err
	}
	return port.SetRTS(on)
}

// Close releases the device.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) current() (serial.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil, ErrNotOpen
	}
	return s.port, nil
}
