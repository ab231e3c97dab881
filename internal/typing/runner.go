package typing

import (
	"context"
	"time"
)

// Ticker is the part of time.Ticker the runner uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFactory func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

func NewStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

type commandKind int

const (
	cmdPress commandKind = iota
	cmdReset
	cmdLoad
	cmdSnapshot
)

type command struct {
	kind  commandKind
	arg   string
	reply chan Snapshot
}

// Runner owns an Engine and serialises keys, resets and ticks through one
// goroutine. The one-second ticker exists only while the engine is running;
// it is stopped on finish, on reset and when Run returns.
type Runner struct {
	engine    *Engine
	newTicker TickerFactory
	cmds      chan command
	progress  chan Progress
	results   chan Result
	done      chan struct{}
}

type RunnerOption func(*Runner)

func WithTickerFactory(f TickerFactory) RunnerOption {
	return func(r *Runner) { r.newTicker = f }
}

func NewRunner(engine *Engine, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine:    engine,
		newTicker: NewStdTicker,
		cmds:      make(chan command),
		progress:  make(chan Progress, 1),
		results:   make(chan Result, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Progress delivers at most the latest unread sample.
func (r *Runner) Progress() <-chan Progress { return r.progress }

// Results delivers one Result per finished attempt.
func (r *Runner) Results() <-chan Result { return r.results }

// Run processes commands until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)

	var (
		ticker Ticker
		tickC  <-chan time.Time
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickC = nil
		}
	}
	defer stopTicker()

	r.engine.SetObservers(
		func(p Progress) {
			select {
			case r.progress <- p:
			default:
				select {
				case <-r.progress:
				default:
				}
				select {
				case r.progress <- p:
				default:
				}
			}
		},
		func(res Result) {
			select {
			case r.results <- res:
			case <-ctx.Done():
			}
		},
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd := <-r.cmds:
			before := r.engine.State()
			switch cmd.kind {
			case cmdPress:
				r.engine.Press(cmd.arg)
			case cmdReset:
				r.engine.Reset()
			case cmdLoad:
				r.engine.Load(cmd.arg)
			}
			after := r.engine.State()
			if after != StateRunning {
				stopTicker()
			} else if before != StateRunning {
				ticker = r.newTicker(time.Second)
				tickC = ticker.C()
			}
			if cmd.reply != nil {
				cmd.reply <- r.engine.Snapshot()
			}

		case <-tickC:
			r.engine.Tick()
			if r.engine.State() != StateRunning {
				stopTicker()
			}
		}
	}
}

func (r *Runner) do(ctx context.Context, kind commandKind, arg string) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case r.cmds <- command{kind: kind, arg: arg, reply: reply}:
	case <-r.done:
		return Snapshot{}, context.Canceled
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (r *Runner) Press(ctx context.Context, key string) (Snapshot, error) {
	return r.do(ctx, cmdPress, key)
}

func (r *Runner) Reset(ctx context.Context) (Snapshot, error) {
	return r.do(ctx, cmdReset, "")
}

func (r *Runner) Load(ctx context.Context, passage string) (Snapshot, error) {
	return r.do(ctx, cmdLoad, passage)
}

func (r *Runner) Snapshot(ctx context.Context) (Snapshot, error) {
	return r.do(ctx, cmdSnapshot, "")
}
