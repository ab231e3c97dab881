// Package typing implements the timed typing test state machine.
package typing

import (
	"time"
	"unicode/utf8"
)

const (
	// KeyBackspace is the only multi-character key name the engine acts on.
	KeyBackspace = "Backspace"

	DefaultDuration = 60 * time.Second
	sampleWindow    = 10
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "idle"
	}
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Progress is pushed once per second while a test is running.
type Progress struct {
	WPM      float64
	Accuracy float64
	Progress float64
}

// Result is the final score of one attempt.
type Result struct {
	WPM         float64
	Accuracy    float64
	Errors      int
	Consistency float64
	WordsTyped  int
	TimeSpent   int
}

type Snapshot struct {
	State       State
	Slots       []Slot
	Cursor      int
	Errors      int
	TypedLength int
	WPM         float64
	Accuracy    float64
	Remaining   int
	Duration    time.Duration
	Result      *Result
}

type Option func(*Engine)

func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.duration = d
		}
	}
}

// Engine scores keystrokes against a passage. It is not safe for concurrent
// use; drive it from a single loop such as Runner.
type Engine struct {
	clock    Clock
	duration time.Duration

	passage []rune
	loaded  bool

	state      State
	slots      []Slot
	cursor     int
	startedAt  time.Time
	finishedAt time.Time
	errors     int
	typed      int
	samples    []float64
	remaining  int
	result     *Result

	onProgress func(Progress)
	onComplete func(Result)
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:    systemClock{},
		duration: DefaultDuration,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Reset()
	return e
}

// SetObservers replaces the progress and completion callbacks. Both are
// invoked synchronously from Press or Tick and must not block.
func (e *Engine) SetObservers(onProgress func(Progress), onComplete func(Result)) {
	e.onProgress = onProgress
	e.onComplete = onComplete
}

// Load binds a new passage and resets the run.
func (e *Engine) Load(passage string) {
	e.passage = []rune(passage)
	e.loaded = true
	e.Reset()
}

// Reset discards the current run and returns to Idle on the same passage.
func (e *Engine) Reset() {
	e.state = StateIdle
	e.slots = newSlots(e.passage)
	e.cursor = 0
	e.startedAt = time.Time{}
	e.finishedAt = time.Time{}
	e.errors = 0
	e.typed = 0
	e.samples = nil
	e.remaining = int(e.duration / time.Second)
	e.result = nil
}

func (e *Engine) State() State { return e.state }

func (e *Engine) Duration() time.Duration { return e.duration }

// Press applies one key. Single characters are scored, KeyBackspace steps
// back, and any other key name only starts the clock.
func (e *Engine) Press(key string) {
	if !e.loaded || e.state == StateFinished {
		return
	}
	now := e.clock.Now()
	if e.state == StateIdle {
		e.state = StateRunning
		e.startedAt = now
		if len(e.slots) == 0 {
			e.finish(now)
			return
		}
	}

	if key == KeyBackspace {
		e.backspace()
		return
	}
	if utf8.RuneCountInString(key) != 1 {
		return
	}
	r, _ := utf8.DecodeRuneInString(key)
	e.advance(r, now)
}

func (e *Engine) advance(r rune, now time.Time) {
	slot := &e.slots[e.cursor]
	if r == slot.Char {
		slot.Status = StatusCorrect
	} else {
		slot.Status = StatusIncorrect
		e.errors++
	}
	e.typed++
	e.cursor++
	if e.cursor < len(e.slots) {
		e.slots[e.cursor].Status = StatusCurrent
		return
	}
	e.finish(now)
}

// backspace never un-counts an error.
func (e *Engine) backspace() {
	if e.state != StateRunning || e.cursor == 0 {
		return
	}
	if e.cursor < len(e.slots) {
		e.slots[e.cursor].Status = StatusPending
	}
	e.cursor--
	e.slots[e.cursor].Status = StatusCurrent
	e.typed--
}

// Tick advances the one-second sampler and countdown.
func (e *Engine) Tick() {
	if e.state != StateRunning {
		return
	}
	now := e.clock.Now()
	wpm := WPM(e.typed, now.Sub(e.startedAt))
	e.samples = append(e.samples, wpm)
	if len(e.samples) > sampleWindow {
		e.samples = e.samples[len(e.samples)-sampleWindow:]
	}
	if e.onProgress != nil {
		e.onProgress(Progress{
			WPM:      wpm,
			Accuracy: Accuracy(e.slots, e.cursor, e.typed),
			Progress: e.progress(),
		})
	}
	e.remaining--
	if e.remaining <= 0 {
		e.remaining = 0
		e.finish(now)
	}
}

func (e *Engine) progress() float64 {
	if len(e.slots) == 0 {
		return 100
	}
	return float64(e.cursor) / float64(len(e.slots)) * 100
}

func (e *Engine) finish(now time.Time) {
	if e.state == StateFinished {
		return
	}
	e.state = StateFinished
	e.finishedAt = now
	res := Result{
		WPM:         WPM(e.typed, now.Sub(e.startedAt)),
		Accuracy:    Accuracy(e.slots, e.cursor, e.typed),
		Errors:      e.errors,
		Consistency: Consistency(e.samples),
		WordsTyped:  wordsTyped(e.typed),
		TimeSpent:   int(e.duration/time.Second) - e.remaining,
	}
	e.result = &res
	if e.onComplete != nil {
		e.onComplete(res)
	}
}

// Result returns the final score once the run has finished.
func (e *Engine) Result() (Result, bool) {
	if e.result == nil {
		return Result{}, false
	}
	return *e.result, true
}

func (e *Engine) Snapshot() Snapshot {
	now := e.clock.Now()
	if e.state == StateFinished {
		now = e.finishedAt
	}
	var wpm float64
	if e.state != StateIdle {
		wpm = WPM(e.typed, now.Sub(e.startedAt))
	}
	slots := make([]Slot, len(e.slots))
	copy(slots, e.slots)
	snap := Snapshot{
		State:       e.state,
		Slots:       slots,
		Cursor:      e.cursor,
		Errors:      e.errors,
		TypedLength: e.typed,
		WPM:         wpm,
		Accuracy:    Accuracy(e.slots, e.cursor, e.typed),
		Remaining:   e.remaining,
		Duration:    e.duration,
	}
	if e.result != nil {
		res := *e.result
		snap.Result = &res
	}
	return snap
}
