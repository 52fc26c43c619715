package rig

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/rigd/pkg/transport"
)

func assertGuardReleased(t *testing.T, s *Session) {
	t.Helper()
	st := s.Guard().Stats()
	assert.Equal(t, st.Acquired, st.Released, "guard acquisitions and releases differ")
	assert.False(t, st.Held, "guard still held")
}

func TestFrequencyCacheWindow(t *testing.T) {
	f := newFixture(t, Config{CacheTimeout: 500 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, f.session.SetFreq(ctx, VFOCurrent, 14_332_000))
	reads := f.mock.ReadCount()
	writes := f.mock.WriteCount()

	hz, err := f.session.GetFreq(ctx, VFOCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(14_332_000), hz)
	assert.Equal(t, reads, f.mock.ReadCount(), "cached get must not read")
	assert.Equal(t, writes, f.mock.WriteCount(), "cached get must not write")

	f.clock.Advance(600 * time.Millisecond)

	hz, err = f.session.GetFreq(ctx, VFOCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(14_332_000), hz)
	assert.Equal(t, writes+1, f.mock.WriteCount(), "stale get issues exactly one exchange")
	assert.Equal(t, reads+1, f.mock.ReadCount())

	// Fresh again.
	_, err = f.session.GetFreq(ctx, VFOCurrent)
	require.NoError(t, err)
	assert.Equal(t, writes+1, f.mock.WriteCount())
	assertGuardReleased(t, f.session)
}

func TestCacheDisabled(t *testing.T) {
	f := newFixture(t, Config{CacheTimeout: 0})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.session.GetFreq(ctx, VFOA)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.mock.WriteCount())
}

func TestStaticValuesCachedForever(t *testing.T) {
	f := newFixture(t, Config{CacheTimeout: 0})
	ctx := context.Background()

	info, err := f.session.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ID0999", info)

	f.clock.Advance(time.Hour)
	_, err = f.session.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.mock.WriteCount())
}

func TestConcurrentOperationsDoNotInterleave(t *testing.T) {
	f := newFixture(t, Config{CacheTimeout: 0})
	f.mock.Latency = 200 * time.Microsecond
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			on, err := f.session.GetPTT(ctx, VFOCurrent)
			if err == nil && on {
				err = errors.New("unexpected ptt on")
			}
			if err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			v, err := f.session.GetLevel(ctx, VFOCurrent, LevelStrength)
			if err == nil && v != 123 {
				err = errors.New("unexpected strength")
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent operation failed: %v", err)
	}

	assert.Equal(t, 0, f.mock.Overlaps(), "exchanges interleaved on the wire")
	assert.Equal(t, 50, f.mock.WriteCount())
	assertGuardReleased(t, f.session)
}

func TestTimeoutRetries(t *testing.T) {
	f := newFixture(t, Config{Retry: 3, Timeout: 5 * time.Millisecond})
	f.radio.silent = true

	_, err := f.session.GetFreq(context.Background(), VFOA)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.Equal(t, 3, f.mock.ReadCount(), "exactly retry read attempts")
	assert.Equal(t, 3, f.mock.WriteCount(), "command resent on every attempt")
	assert.Equal(t, StateOpen, f.session.State(), "timeouts do not fail the session")
	assertGuardReleased(t, f.session)

	var rigErr *Error
	require.True(t, errors.As(err, &rigErr))
	assert.Equal(t, OpFreq, rigErr.Op)
	assert.Equal(t, Get, rigErr.Dir)
}

func TestOutOfRangeWritesNothing(t *testing.T) {
	f := newFixture(t, Config{CacheTimeout: time.Second})
	ctx := context.Background()

	for _, hz := range []int64{0, -5, 30_000_001} {
		err := f.session.SetFreq(ctx, VFOA, hz)
		assert.ErrorIs(t, err, ErrOutOfRange, "freq %d", hz)
		assert.ErrorIs(t, err, ErrInvalidArgument, "freq %d", hz)
	}
	assert.Equal(t, 0, f.mock.WriteCount())
	assert.Equal(t, 0, f.mock.ReadCount())
	assertGuardReleased(t, f.session)
}

func TestClampPolicy(t *testing.T) {
	f := newFixture(t, Config{CacheTimeout: time.Second})
	ctx := context.Background()

	require.NoError(t, f.session.SetLevel(ctx, VFOCurrent, LevelRFPower, 0.01))
	writes := f.mock.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "PC005;", string(writes[0]))

	v, err := f.session.GetLevel(ctx, VFOCurrent, LevelRFPower)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, v, 1e-9, "write-through stores the clamped value")
	assert.Equal(t, 1, f.mock.WriteCount())
}

func TestUnsupported(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	err := f.session.SetRIT(ctx, VFOA, 100)
	assert.ErrorIs(t, err, ErrUnsupported)

	err = f.session.SetLevel(ctx, VFOA, LevelStrength, 1)
	assert.ErrorIs(t, err, ErrUnsupported, "meters are read only")

	_, err = f.session.GetLevel(ctx, VFOA, "NOPE")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, CodeUnsupported, CodeOf(err))

	assert.Equal(t, 0, f.mock.WriteCount())
	assertGuardReleased(t, f.session)
}

func TestProtocolErrors(t *testing.T) {
	t.Run("Missing Terminator", func(t *testing.T) {
		f := newFixture(t, Config{Retry: 3})
		_, err := f.session.GetParm(context.Background(), "GARBAGE")
		assert.ErrorIs(t, err, ErrProtocol)
		assert.Equal(t, 1, f.mock.WriteCount(), "garbage is not retried")
		assert.Equal(t, StateOpen, f.session.State())
		assertGuardReleased(t, f.session)
	})

	t.Run("Rejected Command", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.session.GetParm(context.Background(), "REJECTED")
		assert.ErrorIs(t, err, ErrRejected)
		assert.ErrorIs(t, err, ErrProtocol)
		assertGuardReleased(t, f.session)
	})

	t.Run("Echo Suppressed", func(t *testing.T) {
		f := newFixture(t, Config{})
		f.mock.Echo = true
		v, err := f.session.GetParm(context.Background(), "ECHO")
		require.NoError(t, err)
		assert.Equal(t, "EC1;", v.Str)
	})
}

func TestTransportFailure(t *testing.T) {
	f := newFixture(t, Config{CacheTimeout: time.Second})
	ctx := context.Background()

	_, err := f.session.GetFreq(ctx, VFOA)
	require.NoError(t, err)

	f.mock.ReadErr = errors.New("device unplugged")
	_, err = f.session.GetPTT(ctx, VFOA)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateFailed, f.session.State())
	assert.Equal(t, 1, f.mock.ReadCount()-1, "transport errors are not retried")
	assertGuardReleased(t, f.session)

	// Inspectable, but no I/O.
	v, _, ok := f.session.Peek(OpFreq, VFOA, "")
	require.True(t, ok)
	assert.Equal(t, int64(14074000), v.Freq)
	_, err = f.session.GetFreq(ctx, VFOA)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, f.session.Open(ctx), ErrTransport, "failed session must be closed first")

	f.mock.ReadErr = nil
	require.NoError(t, f.session.Close(ctx))
	require.NoError(t, f.session.Open(ctx))
	on, err := f.session.GetPTT(ctx, VFOA)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestCanceledWhileWaiting(t *testing.T) {
	f := newFixture(t, Config{})
	_, release, err := f.session.Guard().Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.session.GetFreq(ctx, VFOA)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("canceled caller never returned")
	}
	release()

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CodeCanceled, CodeOf(err))
	assert.Equal(t, "canceled", CodeOf(err).String())
	assert.Zero(t, f.mock.WriteCount(), "nothing written while waiting")
	assertGuardReleased(t, f.session)
}

func TestClosedSession(t *testing.T) {
	s, err := New(testModel, Config{}, WithTransport(transport.NewMock(nil)))
	require.NoError(t, err)

	_, err = s.GetFreq(context.Background(), VFOA)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, CodeClosed, CodeOf(err))
}

func TestUnknownModel(t *testing.T) {
	_, err := New(-42, Config{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestReentrantComposite(t *testing.T) {
	f := newFixture(t, Config{CacheTimeout: time.Second})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- f.session.SetSplitFreq(ctx, VFOCurrent, 7_080_000)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("composite operation deadlocked on its own guard")
	}

	hz, err := f.session.GetSplitFreq(ctx, VFOCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(7_080_000), hz)
	assert.Equal(t, int64(7_080_000), f.radio.freqB)

	st := f.session.Guard().Stats()
	assert.GreaterOrEqual(t, st.Reentered, uint64(1))
	assertGuardReleased(t, f.session)
}

func TestDependencyInvalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("Set VFO Drops Current Entries", func(t *testing.T) {
		f := newFixture(t, Config{CacheTimeout: time.Minute})
		hz, err := f.session.GetFreq(ctx, VFOCurrent)
		require.NoError(t, err)
		assert.Equal(t, int64(14074000), hz)

		require.NoError(t, f.session.SetVFO(ctx, VFOB))
		assert.Equal(t, VFOB, f.session.CurrentVFO())

		hz, err = f.session.GetFreq(ctx, VFOCurrent)
		require.NoError(t, err)
		assert.Equal(t, int64(7074000), hz, "current VFO now reads B")

		vfo, err := f.session.GetVFO(ctx)
		require.NoError(t, err)
		assert.Equal(t, VFOB, vfo)
	})

	t.Run("VFO Exchange Drops Per-VFO Entries", func(t *testing.T) {
		f := newFixture(t, Config{CacheTimeout: time.Minute})
		_, err := f.session.GetFreq(ctx, VFOA)
		require.NoError(t, err)
		_, err = f.session.GetFreq(ctx, VFOB)
		require.NoError(t, err)

		require.NoError(t, f.session.VFOOp(ctx, VFOCurrent, VFOOpExchange))

		a, err := f.session.GetFreq(ctx, VFOA)
		require.NoError(t, err)
		b, err := f.session.GetFreq(ctx, VFOB)
		require.NoError(t, err)
		assert.Equal(t, int64(7074000), a)
		assert.Equal(t, int64(14074000), b)
	})

	t.Run("Set On One Selector Drops Aliases", func(t *testing.T) {
		f := newFixture(t, Config{CacheTimeout: time.Minute})
		_, err := f.session.GetFreq(ctx, VFOA)
		require.NoError(t, err)

		require.NoError(t, f.session.SetFreq(ctx, VFOCurrent, 3_573_000))
		hz, err := f.session.GetFreq(ctx, VFOA)
		require.NoError(t, err)
		assert.Equal(t, int64(3_573_000), hz)
	})

	t.Run("Set Freq Drops Split Freq", func(t *testing.T) {
		f := newFixture(t, Config{CacheTimeout: time.Minute})
		require.NoError(t, f.session.SetSplitFreq(ctx, VFOCurrent, 7_100_000))
		hz, err := f.session.GetSplitFreq(ctx, VFOCurrent)
		require.NoError(t, err)
		assert.Equal(t, int64(7_100_000), hz)

		require.NoError(t, f.session.SetFreq(ctx, VFOB, 7_200_000))
		hz, err = f.session.GetSplitFreq(ctx, VFOCurrent)
		require.NoError(t, err)
		assert.Equal(t, int64(7_200_000), hz, "split freq follows VFO B")
	})

	t.Run("PTT Drops Meters", func(t *testing.T) {
		f := newFixture(t, Config{CacheTimeout: time.Minute})
		_, err := f.session.GetLevel(ctx, VFOCurrent, LevelStrength)
		require.NoError(t, err)
		f.radio.strength = 0
		require.NoError(t, f.session.SetPTT(ctx, VFOCurrent, true))

		v, err := f.session.GetLevel(ctx, VFOCurrent, LevelStrength)
		require.NoError(t, err)
		assert.Equal(t, 0.0, v)
	})
}

func TestInvalidSetReleasesGuard(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.session.SetVFO(context.Background(), VFOMem)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, VFOCurrent, f.session.CurrentVFO())
	assertGuardReleased(t, f.session)
}

func TestCloseWaitsForTransaction(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	hctx, release, err := f.session.Guard().Acquire(ctx)
	require.NoError(t, err)
	_ = hctx

	closed := make(chan struct{})
	go func() {
		_ = f.session.Close(ctx)
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("close must wait for the in-flight transaction")
	case <-time.After(30 * time.Millisecond):
	}
	assert.True(t, f.mock.IsOpen())
	release()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not complete after release")
	}
	assert.False(t, f.mock.IsOpen())
	assert.Equal(t, StateClosed, f.session.State())
}

func TestLinePTT(t *testing.T) {
	f := newFixture(t, Config{PTTType: PTTDTR, CacheTimeout: time.Second})
	ctx := context.Background()

	require.NoError(t, f.session.SetPTT(ctx, VFOCurrent, true))
	dtr, rts := f.mock.Lines()
	assert.True(t, dtr)
	assert.False(t, rts)
	assert.Equal(t, 0, f.mock.WriteCount(), "line PTT sends no CAT command")

	on, err := f.session.GetPTT(ctx, VFOCurrent)
	require.NoError(t, err)
	assert.True(t, on)
}

type recordingTracer struct {
	mu     sync.Mutex
	events []WireEvent
}

func (r *recordingTracer) Trace(ev WireEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func TestWireTracing(t *testing.T) {
	tracer := &recordingTracer{}
	radio := &testRadio{freqA: 14074000}
	mock := transport.NewMock(radio.respond)
	s, err := New(testModel, Config{}, WithTransport(mock), WithTracer(tracer))
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))
	defer s.Close(context.Background())

	_, err = s.GetFreq(context.Background(), VFOA)
	require.NoError(t, err)

	require.Len(t, tracer.events, 2)
	assert.True(t, tracer.events[0].TX)
	assert.Equal(t, "FA;", string(tracer.events[0].Data))
	assert.False(t, tracer.events[1].TX)
	assert.Equal(t, "FA00014074000;", string(tracer.events[1].Data))
	assert.Equal(t, s.ID(), tracer.events[0].Session)
}

func TestSessionStats(t *testing.T) {
	f := newFixture(t, Config{CacheTimeout: time.Minute})
	ctx := context.Background()
	_, _ = f.session.GetFreq(ctx, VFOA)
	_, _ = f.session.GetFreq(ctx, VFOA)

	st := f.session.Stats()
	assert.Equal(t, uint64(1), st.Exchanges)
	assert.Equal(t, uint64(1), st.Cache.Hits)
	assert.Equal(t, "open", st.State)
}
