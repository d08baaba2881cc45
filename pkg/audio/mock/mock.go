// Package mock provides in-memory mock implementations of the [audio.Devices],
// [audio.Capture], and [audio.Output] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	capture := &mock.Capture{Rate: 48000}
//	output := &mock.Output{}
//	devs := &mock.Devices{CaptureResult: capture, OutputResult: output}
//	p, err := audio.AcquirePipeline(ctx, devs, cfg)
//	capture.Feed(make([]float32, 2048)) // drives the capture callback
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/dolmetscher/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. Call [Capture.Feed] to
// simulate a capture callback and [Capture.Fail] to simulate the device
// disappearing.
type Capture struct {
	mu sync.Mutex

	// Rate is returned by SampleRate. Defaults to 48000 when zero.
	Rate int

	// StartError is returned by Start.
	StartError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	onData func([]float32)
	onStop func(error)
}

// SampleRate implements [audio.Capture].
func (c *Capture) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Rate == 0 {
		return 48000
	}
	return c.Rate
}

// Start implements [audio.Capture]. Records the callbacks.
func (c *Capture) Start(onData func([]float32), onStop func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError != nil {
		return c.StartError
	}
	c.onData = onData
	c.onStop = onStop
	return nil
}

// Close implements [audio.Capture]. Further Feed calls are ignored.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.onData = nil
	c.onStop = nil
	return c.CloseError
}

// Closed reports whether Close has been called at least once.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountClose > 0
}

// Feed delivers samples to the registered data callback, if any.
func (c *Capture) Feed(samples []float32) {
	c.mu.Lock()
	cb := c.onData
	c.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

// Fail invokes the registered stop callback with err.
func (c *Capture) Fail(err error) {
	c.mu.Lock()
	cb := c.onStop
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// ─── Output ───────────────────────────────────────────────────────────────────

// PlayCall records a single [Output.Play] invocation.
type PlayCall struct {
	Buffer *audio.Buffer
	At     time.Duration
	Voice  *Voice
}

// Output is a mock implementation of [audio.Output] with a manually driven
// clock. Voices never end on their own; call [Output.Finish] to simulate
// natural completion.
type Output struct {
	mu sync.Mutex

	// PlayError is returned by Play.
	PlayError error

	// CloseError is returned by Close.
	CloseError error

	// PlayCalls records all Play invocations in order.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	now time.Duration
}

// SetNow sets the device clock.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Play implements [audio.Output]. Records the call and returns a [Voice].
func (o *Output) Play(buf *audio.Buffer, at time.Duration, onEnded func()) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.PlayError != nil {
		return nil, o.PlayError
	}
	v := &Voice{onEnded: onEnded}
	o.PlayCalls = append(o.PlayCalls, PlayCall{Buffer: buf, At: at, Voice: v})
	return v, nil
}

// Close implements [audio.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return o.CloseError
}

// Closed reports whether Close has been called at least once.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountClose > 0
}

// Calls returns a snapshot of PlayCalls.
func (o *Output) Calls() []PlayCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PlayCall, len(o.PlayCalls))
	copy(out, o.PlayCalls)
	return out
}

// Finish completes the i-th played voice naturally, invoking its onEnded
// callback unless it was stopped.
func (o *Output) Finish(i int) {
	o.mu.Lock()
	v := o.PlayCalls[i].Voice
	o.mu.Unlock()
	v.finish()
}

// Voice is a mock implementation of [audio.Voice].
type Voice struct {
	mu      sync.Mutex
	onEnded func()
	stopped bool
	ended   bool
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

// Stopped reports whether Stop has been called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func (v *Voice) finish() {
	v.mu.Lock()
	if v.stopped || v.ended {
		v.mu.Unlock()
		return
	}
	v.ended = true
	cb := v.onEnded
	v.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// Devices is a mock implementation of [audio.Devices].
type Devices struct {
	mu sync.Mutex

	// CaptureResult is returned by OpenCapture. A fresh [Capture] is created
	// on every call when nil.
	CaptureResult *Capture

	// OutputResult is returned by OpenOutput. A fresh [Output] is created on
	// every call when nil.
	OutputResult *Output

	// CaptureError is returned by OpenCapture.
	CaptureError error

	// OutputError is returned by OpenOutput.
	OutputError error

	// CaptureConfigs records the config of every OpenCapture call.
	CaptureConfigs []audio.CaptureConfig

	// OutputConfigs records the config of every OpenOutput call.
	OutputConfigs []audio.OutputConfig

	// Captures and Outputs record every device handed out.
	Captures []*Capture
	Outputs  []*Output
}

// SetCaptureError changes the error returned by later OpenCapture calls.
func (d *Devices) SetCaptureError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CaptureError = err
}

// OpenCapture implements [audio.Devices].
func (d *Devices) OpenCapture(_ context.Context, cfg audio.CaptureConfig) (audio.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CaptureConfigs = append(d.CaptureConfigs, cfg)
	if d.CaptureError != nil {
		return nil, d.CaptureError
	}
	c := d.CaptureResult
	if c == nil {
		c = &Capture{}
	}
	d.Captures = append(d.Captures, c)
	return c, nil
}

// OpenOutput implements [audio.Devices].
func (d *Devices) OpenOutput(_ context.Context, cfg audio.OutputConfig) (audio.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OutputConfigs = append(d.OutputConfigs, cfg)
	if d.OutputError != nil {
		return nil, d.OutputError
	}
	o := d.OutputResult
	if o == nil {
		o = &Output{}
	}
	d.Outputs = append(d.Outputs, o)
	return o, nil
}

// OpenCount returns how many capture devices have been opened.
func (d *Devices) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Captures)
}

// LastCapture returns the most recently opened capture device, or nil.
func (d *Devices) LastCapture() *Capture {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Captures) == 0 {
		return nil
	}
	return d.Captures[len(d.Captures)-1]
}

// LastOutput returns the most recently opened output device, or nil.
func (d *Devices) LastOutput() *Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Outputs) == 0 {
		return nil
	}
	return d.Outputs[len(d.Outputs)-1]
}
