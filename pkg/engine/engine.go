package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/rigd/pkg/hardware"
	"github.com/dougsko/rigd/pkg/logging"
	"github.com/dougsko/rigd/pkg/protocol"
	"github.com/dougsko/rigd/pkg/rig"
)

// Options configures the socket server.
type Options struct {
	UnixSocket string
	TCPAddress string
	Version    string
	// CommandTimeout bounds one device command. Zero means 10s.
	CommandTimeout time.Duration
}

// Change describes a successful set, reported to observers.
type Change struct {
	Target  protocol.Target
	Request rig.Request
	Session *rig.Session
}

// CoreEngine serves the line protocol over Unix and TCP sockets and
// executes commands against the hardware manager's sessions.
type CoreEngine struct {
	opts      Options
	hardware  *hardware.Manager
	logger    *logging.Logger
	startTime time.Time

	mutex     sync.RWMutex
	running   bool
	listeners []net.Listener
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
	clients   atomic.Int32

	obsMutex  sync.RWMutex
	observers []func(Change)
}

// NewCoreEngine creates a new core engine
func NewCoreEngine(hw *hardware.Manager, opts Options, logger *logging.Logger) *CoreEngine {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = 10 * time.Second
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &CoreEngine{
		opts:      opts,
		hardware:  hw,
		logger:    logger,
		startTime: time.Now(),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Observe registers fn to be called after every successful device set.
func (e *CoreEngine) Observe(fn func(Change)) {
	e.obsMutex.Lock()
	defer e.obsMutex.Unlock()
	e.observers = append(e.observers, fn)
}

func (e *CoreEngine) notify(c Change) {
	e.obsMutex.RLock()
	defer e.obsMutex.RUnlock()
	for _, fn := range e.observers {
		fn(c)
	}
}

// Start opens the configured sockets and starts accepting connections.
func (e *CoreEngine) Start() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.running {
		return nil
	}

	if e.opts.UnixSocket != "" {
		// Remove a stale socket file
		os.Remove(e.opts.UnixSocket)

		l, err := net.Listen("unix", e.opts.UnixSocket)
		if err != nil {
			return fmt.Errorf("failed to create Unix socket: %w", err)
		}
		if err := os.Chmod(e.opts.UnixSocket, 0660); err != nil {
			e.logger.Warnf("engine", "Failed to set socket permissions: %v", err)
		}
		e.listeners = append(e.listeners, l)
		e.logger.Infof("engine", "Listening on %s", e.opts.UnixSocket)
	}

	if e.opts.TCPAddress != "" {
		l, err := net.Listen("tcp", e.opts.TCPAddress)
		if err != nil {
			e.closeListeners()
			return fmt.Errorf("failed to listen on %s: %w", e.opts.TCPAddress, err)
		}
		e.listeners = append(e.listeners, l)
		e.logger.Infof("engine", "Listening on tcp %s", l.Addr())
	}

	if len(e.listeners) == 0 {
		return errors.New("no socket configured")
	}

	e.running = true
	for _, l := range e.listeners {
		e.wg.Add(1)
		go e.acceptConnections(l)
	}
	return nil
}

// Addrs returns the addresses the engine listens on.
func (e *CoreEngine) Addrs() []net.Addr {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	var out []net.Addr
	for _, l := range e.listeners {
		out = append(out, l.Addr())
	}
	return out
}

// Stop closes the sockets and every client connection, then waits for
// the connection handlers to return.
func (e *CoreEngine) Stop() error {
	e.mutex.Lock()
	if !e.running {
		e.mutex.Unlock()
		return nil
	}
	e.running = false
	e.closeListeners()
	for c := range e.conns {
		c.Close()
	}
	e.mutex.Unlock()

	e.wg.Wait()

	if e.opts.UnixSocket != "" {
		os.Remove(e.opts.UnixSocket)
	}
	e.logger.Info("engine", "Socket server stopped")
	return nil
}

func (e *CoreEngine) closeListeners() {
	for _, l := range e.listeners {
		l.Close()
	}
	e.listeners = nil
}

func (e *CoreEngine) isRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

func (e *CoreEngine) acceptConnections(l net.Listener) {
	defer e.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			if e.isRunning() {
				e.logger.Errorf("engine", "Socket accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return
		}

		e.mutex.Lock()
		if !e.running {
			e.mutex.Unlock()
			conn.Close()
			return
		}
		e.conns[conn] = struct{}{}
		e.wg.Add(1)
		e.mutex.Unlock()

		go e.handleConnection(conn)
	}
}

func (e *CoreEngine) handleConnection(conn net.Conn) {
	defer e.wg.Done()
	defer func() {
		e.mutex.Lock()
		delete(e.conns, conn)
		e.mutex.Unlock()
		conn.Close()
	}()

	e.clients.Add(1)
	defer e.clients.Add(-1)
	e.logger.Debugf("engine", "Client connected: %s", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, response := e.ExecuteLine(context.Background(), line)
		if _, err := conn.Write([]byte(response.String() + "\n")); err != nil {
			return
		}

		if cmd != nil && cmd.Type == protocol.CmdQuit {
			return
		}
	}
}

// ExecuteLine parses and runs one protocol line under the command
// timeout. cmd is nil when the line does not parse.
func (e *CoreEngine) ExecuteLine(ctx context.Context, line string) (*protocol.Command, *protocol.Response) {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		return nil, protocol.NewErrorResponse(err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.CommandTimeout)
	defer cancel()
	return cmd, e.Execute(ctx, cmd)
}

// Execute runs one parsed command.
func (e *CoreEngine) Execute(ctx context.Context, cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdStatus:
		return e.handleStatus()

	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "goodbye",
		})

	case protocol.CmdHelp:
		return e.handleHelp()

	case protocol.CmdStats:
		s, err := e.device(cmd.Args["device"])
		if err != nil {
			return protocol.NewErrorResponse(err)
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"stats": s.Stats()})

	case protocol.CmdDumpCaps:
		s, err := e.device(cmd.Args["device"])
		if err != nil {
			return protocol.NewErrorResponse(err)
		}
		return protocol.NewSuccessResponse(map[string]interface{}{"caps": DescribeCaps(s.Caps())})
	}

	return e.handleDevice(ctx, cmd)
}

func (e *CoreEngine) handleDevice(ctx context.Context, cmd *protocol.Command) *protocol.Response {
	req, err := cmd.Request()
	if err != nil {
		return protocol.NewErrorResponse(err)
	}

	var s *rig.Session
	if cmd.Spec.Target == protocol.TargetRotator {
		s, err = e.hardware.Rotator()
	} else {
		s, err = e.hardware.Rig()
	}
	if err != nil {
		return protocol.NewErrorResponse(fmt.Errorf("%w: %w", rig.ErrClosed, err))
	}

	v, err := s.Execute(ctx, req)
	if err != nil {
		e.logger.Debugf("engine", "%s failed: %v", cmd.Type, err)
		return protocol.NewErrorResponse(err)
	}

	if req.Dir == rig.Set {
		e.notify(Change{Target: cmd.Spec.Target, Request: req, Session: s})
	}
	return protocol.NewSuccessResponse(protocol.Render(cmd, v))
}

// device picks a session by name, the rig by default.
func (e *CoreEngine) device(name string) (*rig.Session, error) {
	var (
		s   *rig.Session
		err error
	)
	switch name {
	case "", "rig":
		s, err = e.hardware.Rig()
	case "rot", "rotator":
		s, err = e.hardware.Rotator()
	default:
		return nil, fmt.Errorf("%w: unknown device %q", rig.ErrInvalidArgument, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rig.ErrClosed, err)
	}
	return s, nil
}

// handleStatus returns current daemon status
func (e *CoreEngine) handleStatus() *protocol.Response {
	status := protocol.Status{
		Version:   e.opts.Version,
		Uptime:    time.Since(e.startTime).Round(time.Second).String(),
		StartTime: e.startTime,
		Clients:   int(e.clients.Load()),
	}
	if s, err := e.hardware.Rig(); err == nil {
		status.Rig = s.Caps().FullName()
	}
	if s, err := e.hardware.Rotator(); err == nil {
		status.Rotator = s.Caps().FullName()
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"status":  status,
		"devices": e.hardware.Status(),
	})
}

func (e *CoreEngine) handleHelp() *protocol.Response {
	var usage []string
	for _, s := range protocol.Commands() {
		line := s.Usage()
		if s.Short != "" {
			line = s.Short + "  " + line
		}
		usage = append(usage, line)
	}
	return protocol.NewSuccessResponse(map[string]interface{}{"commands": usage})
}

// Caps is the JSON description of a model's capabilities.
type Caps struct {
	Model        int                 `json:"model"`
	Name         string              `json:"name"`
	Manufacturer string              `json:"manufacturer"`
	Version      string              `json:"version"`
	Status       string              `json:"status"`
	Type         string              `json:"type"`
	Modes        []rig.Mode          `json:"modes,omitempty"`
	RX           []rig.FreqRange     `json:"rx_ranges,omitempty"`
	TX           []rig.FreqRange     `json:"tx_ranges,omitempty"`
	CTCSS        []int               `json:"ctcss,omitempty"`
	Ops          map[string]string   `json:"ops"`
	Items        map[string][]string `json:"items,omitempty"`
}

// DescribeCaps summarizes caps for dump_caps and the HTTP API.
func DescribeCaps(c *rig.Caps) Caps {
	out := Caps{
		Model:        c.Model,
		Name:         c.Name,
		Manufacturer: c.Manufacturer,
		Version:      c.Version,
		Status:       c.Status.String(),
		Type:         c.Type.String(),
		Modes:        c.Modes,
		RX:           c.RXRanges,
		TX:           c.TXRanges,
		CTCSS:        c.CTCSSList,
		Ops:          make(map[string]string),
		Items:        make(map[string][]string),
	}
	for op := range c.Ops {
		get, set := c.Supports(op, rig.Get), c.Supports(op, rig.Set)
		switch {
		case get && set:
			out.Ops[op.String()] = "get,set"
		case set:
			out.Ops[op.String()] = "set"
		default:
			out.Ops[op.String()] = "get"
		}
		if names := c.ItemNames(op); len(names) > 0 {
			out.Items[op.String()] = names
		}
	}
	return out
}
