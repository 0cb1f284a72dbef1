// Package input absorbs client input events at wire rate and injects them
// into the X session through a single worker, collapsing pointer-move
// bursts so the injection tool is never fork-bombed.
package input

import (
	"math"
	"sync"
	"time"

	"github.com/lucidesk/lucidesk/internal/logging"
)

var log = logging.L("input")

// inputQueueCap bounds buffered events; submission never blocks and
// overflow drops the newest event.
const inputQueueCap = 2000

// defaultMoveGap caps pointer-move dispatch at ~125 Hz, matching the
// client-side throttle.
const defaultMoveGap = 8 * time.Millisecond

type kind int

const (
	kindKey kind = iota
	kindMove
	kindButton
)

type task struct {
	kind   kind
	keysym string
	down   bool
	nx, ny float64
	button int
}

// Dispatcher injects one event into the session. The worker is the sole
// caller; implementations must not block it.
type Dispatcher interface {
	KeyEvent(keysym string, down bool)
	MoveEvent(x, y int)
	ButtonEvent(button int, down bool)
}

// Coalescer owns the bounded input queue and its worker. Keys and buttons
// replay in strict FIFO order; a contiguous run of pointer moves collapses
// to its newest event, dispatched only if the rate cap allows.
type Coalescer struct {
	queue    chan task
	screen   func() (w, h int)
	dispatch Dispatcher
	moveGap  time.Duration

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewCoalescer builds a coalescer dispatching through d. screen reports
// the current output geometry used to denormalize pointer coordinates.
func NewCoalescer(d Dispatcher, screen func() (int, int)) *Coalescer {
	return &Coalescer{
		queue:    make(chan task, inputQueueCap),
		screen:   screen,
		dispatch: d,
		moveGap:  defaultMoveGap,
		done:     make(chan struct{}),
	}
}

// Start launches the worker.
func (c *Coalescer) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.run()
		}()
	})
}

// Stop ends the worker; queued events are discarded.
func (c *Coalescer) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

// SubmitKey enqueues a key transition. Unmappable key values are silently
// rejected.
func (c *Coalescer) SubmitKey(key string, down bool) {
	keysym, ok := MapKey(key)
	if !ok {
		return
	}
	c.submit(task{kind: kindKey, keysym: keysym, down: down})
}

// SubmitMove enqueues a pointer move with coordinates normalized to [0,1].
// Out-of-range coordinates are silently rejected.
func (c *Coalescer) SubmitMove(nx, ny float64) {
	if nx < 0 || nx > 1 || ny < 0 || ny > 1 {
		return
	}
	c.submit(task{kind: kindMove, nx: nx, ny: ny})
}

// SubmitButton enqueues a button transition. btn uses the wire numbering
// 0/1/2 for left/middle/right; anything else is silently rejected.
func (c *Coalescer) SubmitButton(btn int, down bool) {
	if btn < 0 || btn > 2 {
		return
	}
	c.submit(task{kind: kindButton, button: btn + 1, down: down})
}

func (c *Coalescer) submit(t task) {
	select {
	case c.queue <- t:
	default:
	}
}

func (c *Coalescer) run() {
	var lastMove time.Time
	for {
		select {
		case <-c.done:
			return
		case t := <-c.queue:
			if t.kind != kindMove {
				c.fire(t)
				continue
			}
			// Collapse the move run already queued behind this one. A key
			// or button ends the run and fires in position, after the
			// move that preceded it.
			pending := t
			hasPending := true
			for hasPending && len(c.queue) > 0 {
				next := <-c.queue
				if next.kind == kindMove {
					pending = next
					continue
				}
				c.fireMove(pending, &lastMove)
				hasPending = false
				c.fire(next)
			}
			if hasPending {
				c.fireMove(pending, &lastMove)
			}
		}
	}
}

func (c *Coalescer) fire(t task) {
	switch t.kind {
	case kindKey:
		c.dispatch.KeyEvent(t.keysym, t.down)
	case kindButton:
		c.dispatch.ButtonEvent(t.button, t.down)
	}
}

// fireMove dispatches a pointer move unless one was dispatched within the
// rate cap, in which case the move is dropped.
func (c *Coalescer) fireMove(t task, lastMove *time.Time) {
	if time.Since(*lastMove) < c.moveGap {
		return
	}
	*lastMove = time.Now()

	w, h := c.screen()
	x := int(math.Round(t.nx * float64(w)))
	y := int(math.Round(t.ny * float64(h)))
	c.dispatch.MoveEvent(x, y)
}
