// Package worker owns the single processing goroutine: frames and control
// commands arrive on bounded channels and are consumed strictly in order,
// with control commands draining ahead of the next frame. Backpressure is
// load shedding: when the frame queue is full the oldest intent is to stay
// realtime, so new frames are dropped and counted rather than queued
// without bound.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kinetic-rehab/reach.report/internal/calib"
	"github.com/kinetic-rehab/reach.report/internal/engine"
	"github.com/kinetic-rehab/reach.report/internal/monitoring"
	"github.com/kinetic-rehab/reach.report/internal/pose"
	"github.com/kinetic-rehab/reach.report/internal/session"
)

// ControlKind discriminates the control commands.
type ControlKind string

const (
	ControlCalibrate ControlKind = "CALIBRATE"
	ControlSetSide   ControlKind = "SET_SIDE"
	ControlReset     ControlKind = "RESET"
)

// Control is one control command. Err receives the application result when
// non-nil; senders that do not care may leave it unset.
type Control struct {
	Kind    ControlKind
	Side    pose.Side
	Patient calib.Patient
	Err     chan error
}

// Worker serialises all engine and session access on one goroutine.
type Worker struct {
	eng  *engine.Engine
	sess *session.Driver

	frames   chan *pose.Frame
	controls chan Control
	onResult func(engine.Result)

	dropped atomic.Int64
	done    chan struct{}
}

// New creates a worker with the given frame queue capacity. onResult is
// invoked on the worker goroutine for every processed frame; it must not
// block.
func New(eng *engine.Engine, sess *session.Driver, queueSize int, onResult func(engine.Result)) *Worker {
	if queueSize <= 0 {
		queueSize = 8
	}
	if onResult == nil {
		onResult = func(engine.Result) {}
	}
	return &Worker{
		eng:      eng,
		sess:     sess,
		frames:   make(chan *pose.Frame, queueSize),
		controls: make(chan Control, 4),
		onResult: onResult,
		done:     make(chan struct{}),
	}
}

// Start launches the processing goroutine. It runs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Done is closed when the processing goroutine has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Submit offers a frame without blocking. It reports false when the frame
// was shed because the queue was full.
func (w *Worker) Submit(f *pose.Frame) bool {
	select {
	case w.frames <- f:
		return true
	default:
		n := w.dropped.Add(1)
		if n%100 == 1 {
			monitoring.Logf("worker: frame queue full, %d frames dropped so far", n)
		}
		return false
	}
}

// Control enqueues a control command. Controls are never shed; the queue is
// small and commands are rare.
func (w *Worker) Control(c Control) {
	w.controls <- c
}

// DroppedFrames returns the total number of shed frames.
func (w *Worker) DroppedFrames() int64 { return w.dropped.Load() }

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		// Pending controls apply before the next frame is processed.
		select {
		case <-ctx.Done():
			return
		case c := <-w.controls:
			w.apply(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case c := <-w.controls:
			w.apply(c)
		case f := <-w.frames:
			res := w.eng.Process(f)
			w.sess.Observe(res)
			w.onResult(res)
		}
	}
}

func (w *Worker) apply(c Control) {
	var err error
	switch c.Kind {
	case ControlCalibrate:
		err = w.eng.Calibrate(c.Patient)
	case ControlSetSide:
		err = w.eng.SetSide(c.Side)
	case ControlReset:
		w.eng.Reset()
		w.sess.Reset()
	default:
		err = fmt.Errorf("unknown control command %q", c.Kind)
	}
	if err != nil {
		monitoring.Logf("worker: control %s failed: %v", c.Kind, err)
	}
	if c.Err != nil {
		c.Err <- err
	}
}
