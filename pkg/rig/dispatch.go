package rig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dougsko/rigd/pkg/transport"
)

// resolved is the handler plus the item-level settings for a request.
type resolved struct {
	h       *Handler
	access  Access
	bounds  []Bound
	static  bool
	noCache bool
}

func (s *Session) resolve(req Request) (resolved, error) {
	if req.Op == OpPTT {
		switch s.cfg.PTTType {
		case PTTDTR, PTTRTS:
			return resolved{h: linePTTHandler, access: AccessGetSet}, nil
		case PTTNone:
			return resolved{}, fmt.Errorf("%w: ptt disabled", ErrUnsupported)
		}
	}

	h, ok := s.caps.Ops[req.Op]
	if !ok || h == nil {
		return resolved{}, fmt.Errorf("%w: %s has no %s handler", ErrUnsupported, s.caps.FullName(), req.Op)
	}
	r := resolved{h: h, access: h.Access, bounds: h.Bounds, static: h.Static, noCache: h.NoCache}
	if len(h.Items) > 0 {
		it, ok := h.Items[req.Item]
		if !ok {
			return resolved{}, fmt.Errorf("%w: %s %q not available", ErrUnsupported, req.Op, req.Item)
		}
		r.access = it.Access
		r.bounds = append(append([]Bound(nil), h.Bounds...), it.Bounds...)
		r.static = r.static || it.Static
		r.noCache = r.noCache || it.NoCache
	}
	if !r.access.Allows(req.Dir) {
		return resolved{}, fmt.Errorf("%w: %s is not %sable", ErrUnsupported, req.Op, req.Dir)
	}
	if h.Do == nil && h.Encode == nil {
		return resolved{}, fmt.Errorf("%w: %s handler has no implementation", ErrUnsupported, req.Op)
	}
	return r, nil
}

// Execute runs one generic operation. Gets are served from the cache
// while fresh; everything else runs under the transaction guard. The
// returned error wraps one of the package sentinels.
func (s *Session) Execute(ctx context.Context, req Request) (Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	v, err := s.execute(ctx, req)
	if err != nil {
		return Value{}, &Error{Op: req.Op, Dir: req.Dir, VFO: req.VFO, Item: req.Item, Err: err}
	}
	return v, nil
}

func (s *Session) execute(ctx context.Context, req Request) (Value, error) {
	if err := s.checkOpen(); err != nil {
		return Value{}, err
	}
	r, err := s.resolve(req)
	if err != nil {
		return Value{}, err
	}
	if req.Dir == Set {
		if req.Value, err = applyBounds(r.bounds, req.Value, req.VFO); err != nil {
			return Value{}, err
		}
		if req.Op == OpCTCSSTone {
			if err := s.caps.checkTone(req.Value.Int); err != nil {
				return Value{}, err
			}
		}
	}

	key := keyFor(req)
	cacheable := req.Dir == Get && !r.noCache
	if cacheable {
		if v, age, ok := s.cache.Get(key); ok {
			s.log.Debugf("cache", "%s hit, age %s", key, age)
			return v, nil
		}
	}

	ctx, release, err := s.guard.Acquire(ctx)
	if err != nil {
		return Value{}, err
	}
	defer release()

	// Another caller may have filled the entry while we waited.
	if cacheable {
		if v, _, ok := s.cache.Get(key); ok {
			return v, nil
		}
	}
	if err := s.checkOpen(); err != nil {
		return Value{}, err
	}

	ctx, leave := s.enter(ctx, req)
	v, err := s.perform(ctx, r.h, req)
	leave(err)
	if err != nil {
		return Value{}, err
	}

	switch req.Dir {
	case Get:
		if cacheable {
			if r.static {
				s.cache.PutStatic(key, v)
			} else {
				s.cache.Put(key, v)
			}
		}
	case Set:
		s.afterSet(req, r)
	}
	return v, nil
}

func (s *Session) perform(ctx context.Context, h *Handler, req Request) (Value, error) {
	if h.Do != nil {
		v, err := h.Do(ctx, s, req)
		return v, classify(err, ErrProtocol)
	}

	cmd, err := h.Encode(s, req)
	if err != nil {
		return Value{}, classify(err, ErrInvalidArgument)
	}
	reply, err := s.Transact(ctx, cmd)
	if err != nil {
		return Value{}, err
	}
	if req.Dir == Get {
		if h.Decode == nil {
			return Value{}, fmt.Errorf("%w: %s has no decoder", ErrUnsupported, req.Op)
		}
		v, err := h.Decode(s, req, reply)
		if err != nil {
			s.stats.protocol.Add(1)
			return Value{}, classify(err, ErrProtocol)
		}
		return v, nil
	}
	if h.Ack != nil && cmd.Reply != nil {
		if err := h.Ack(reply); err != nil {
			s.stats.protocol.Add(1)
			return Value{}, classify(err, ErrProtocol)
		}
	}
	return req.Value, nil
}

// Transact performs one command/reply exchange under the guard, retrying
// only on timeout. The total number of attempts is the session retry
// count, at least one. Composite handlers call it with the context they
// were given.
func (s *Session) Transact(ctx context.Context, cmd Command) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	_, release, err := s.guard.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	attempts := s.retry
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		reply, err := s.exchange(cmd)
		if err == nil {
			return reply, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return nil, err
		}
		s.stats.timeouts.Add(1)
		if attempt >= attempts {
			return nil, fmt.Errorf("%w: no reply after %d attempt(s)", ErrTimeout, attempts)
		}
		s.stats.retries.Add(1)
		s.log.Debugf("rig", "Timeout on attempt %d/%d, resending", attempt, attempts)
	}
}

func (s *Session) exchange(cmd Command) ([]byte, error) {
	s.stats.exchanges.Add(1)

	buf := s.pool.Get(64)
	defer buf.Release()
	s.rx = buf.Data[:0]
	defer func() { s.rx = nil }()

	if err := s.tr.Flush(); err != nil {
		return nil, s.fail(err)
	}
	if err := s.write(cmd.Data); err != nil {
		return nil, s.fail(err)
	}
	if s.postWriteDelay > 0 {
		time.Sleep(s.postWriteDelay)
	}
	if cmd.Reply == nil {
		return nil, nil
	}

	deadline := time.Now().Add(s.timeout)
	echoed := false
	for {
		frame, err := s.readFrame(cmd.Reply, deadline)
		if err != nil {
			return nil, err
		}
		if cmd.Reply.Echo && !echoed && bytes.Equal(frame, cmd.Data) {
			echoed = true
			continue
		}
		if cmd.Reply.Skip != nil && cmd.Reply.Skip(frame) {
			s.log.Debugf("rig", "Skipping foreign frame % x", frame)
			continue
		}
		if cmd.Reply.Validate != nil {
			if err := cmd.Reply.Validate(frame); err != nil {
				s.stats.protocol.Add(1)
				return nil, classify(err, ErrProtocol)
			}
		}
		return frame, nil
	}
}

func (s *Session) write(p []byte) error {
	s.traceWire(true, p, nil)
	if s.writeDelay <= 0 {
		return s.tr.Write(p)
	}
	for i := range p {
		if err := s.tr.Write(p[i : i+1]); err != nil {
			return err
		}
		if i < len(p)-1 {
			time.Sleep(s.writeDelay)
		}
	}
	return nil
}

// readFrame reads until one frame is complete. Bytes past the frame stay
// in s.rx for the next frame of the same exchange.
func (s *Session) readFrame(f *Frame, deadline time.Time) ([]byte, error) {
	limit := f.limit()
	for {
		if f.Size > 0 {
			if len(s.rx) >= f.Size {
				return s.takeFrame(f.Size), nil
			}
		} else if i := bytes.IndexByte(s.rx, f.Term); i >= 0 {
			return s.takeFrame(i + 1), nil
		} else if len(s.rx) >= limit {
			s.stats.protocol.Add(1)
			return nil, Protocolf("no terminator %#02x within %d bytes: %q", f.Term, limit, s.rx)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.traceWire(false, s.rx, ErrTimeout)
			return nil, ErrTimeout
		}
		chunk, err := s.tr.Read(limit-len(s.rx), remaining)
		if errors.Is(err, transport.ErrTimeout) {
			s.traceWire(false, s.rx, ErrTimeout)
			return nil, ErrTimeout
		}
		if err != nil {
			return nil, s.fail(err)
		}
		s.rx = append(s.rx, chunk...)
	}
}

func (s *Session) takeFrame(n int) []byte {
	frame := bytes.Clone(s.rx[:n])
	s.rx = s.rx[n:]
	s.traceWire(false, frame, nil)
	return frame
}

func (s *Session) traceWire(tx bool, data []byte, err error) {
	if s.tracer == nil {
		return
	}
	s.tracer.Trace(WireEvent{
		Session: s.id,
		Model:   s.caps.Model,
		Time:    time.Now(),
		TX:      tx,
		Data:    bytes.Clone(data),
		Err:     err,
	})
}

// linePTTHandler keys the transmitter with a modem control line.
var linePTTHandler = &Handler{
	Access: AccessGetSet,
	Do: func(ctx context.Context, s *Session, req Request) (Value, error) {
		lc, ok := s.tr.(transport.LineController)
		if !ok {
			return Value{}, fmt.Errorf("%w: transport has no control lines", ErrUnsupported)
		}
		if req.Dir == Get {
			return Value{Bool: s.linePTT.Load()}, nil
		}
		var err error
		if s.cfg.PTTType == PTTDTR {
			err = lc.SetDTR(req.Value.Bool)
		} else {
			err = lc.SetRTS(req.Value.Bool)
		}
		if err != nil {
			return Value{}, s.fail(err)
		}
		s.linePTT.Store(req.Value.Bool)
		return req.Value, nil
	},
}
