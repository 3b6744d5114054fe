// Package bridge runs the translation loop: power readings pass through the
// smoothing filter and response curve to drive the trigger, keyboard events
// toggle buttons, and every change is flushed to the gamepad sink as one
// frame.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/velopad/velopad/internal/ble"
	"github.com/velopad/velopad/internal/curve"
	"github.com/velopad/velopad/internal/events"
	"github.com/velopad/velopad/internal/filter"
	"github.com/velopad/velopad/internal/keys"
	"github.com/velopad/velopad/internal/pad"
)

// Binding maps lowercased key names to gamepad buttons.
type Binding map[string]pad.Button

// NewBinding resolves a name-to-name configuration map into a Binding.
func NewBinding(raw map[string]string) (Binding, error) {
	binding := make(Binding, len(raw))
	for key, name := range raw {
		button, err := pad.ButtonByName(name)
		if err != nil {
			return nil, fmt.Errorf("binding for key %q: %w", key, err)
		}
		binding[key] = button
	}
	return binding, nil
}

// Update is one flushed frame together with the smoothed power that
// produced it, published for observers.
type Update struct {
	Watts float64
	Frame pad.Frame
}

// input is one queued producer event; exactly one field is set.
type input struct {
	status  *ble.Status
	reading *ble.Reading
	key     *keys.Event
}

// Bridge owns the filter and button state. Producers push into a single
// queue the moment they observe an event, so frames reach the sink in
// arrival order across both streams; the Run goroutine is the only
// consumer.
type Bridge struct {
	filter  *filter.PowerFilter
	curve   *curve.Curve
	sink    *pad.Sink
	binding Binding
	logger  *log.Logger
	out     io.Writer

	queue      chan input
	frameEvent *events.ChannelEvent[Update]

	// Touched only from the Run goroutine.
	linkState ble.State
	smoothed  float64
	buttons   map[pad.Button]bool
}

func New(powerFilter *filter.PowerFilter, responseCurve *curve.Curve, sink *pad.Sink,
	binding Binding, logger *log.Logger, out io.Writer) *Bridge {
	if powerFilter == nil || responseCurve == nil || sink == nil {
		panic("Bridge: all collaborators must be non-nil")
	}
	if logger == nil {
		panic("Bridge: logger cannot be nil")
	}
	if out == nil {
		out = io.Discard
	}
	return &Bridge{
		filter:     powerFilter,
		curve:      responseCurve,
		sink:       sink,
		binding:    binding,
		logger:     logger,
		out:        out,
		queue:      make(chan input, 256),
		frameEvent: events.NewChannelEvent[Update](false),
		linkState:  ble.StateIdle,
		buttons:    make(map[pad.Button]bool),
	}
}

// Verify Bridge satisfies the link's consumer contract.
var _ ble.Consumer = (*Bridge)(nil)

// OnReading implements ble.Consumer. Called from the transport's
// notification goroutine; never blocks.
func (b *Bridge) OnReading(reading ble.Reading) {
	b.enqueue(input{reading: &reading})
}

// OnStatus implements ble.Consumer.
func (b *Bridge) OnStatus(status ble.Status) {
	b.enqueue(input{status: &status})
}

// OnKey is the keys.Sink for the bridge. Called from the keyboard reader
// goroutine; never blocks.
func (b *Bridge) OnKey(ev keys.Event) {
	b.enqueue(input{key: &ev})
}

// enqueue preserves arrival order by funneling every producer through the
// one queue. When the queue is full the event is dropped and logged rather
// than blocking a producer callback.
func (b *Bridge) enqueue(in input) {
	select {
	case b.queue <- in:
	default:
		b.logger.Printf("Bridge: event queue full, dropping %s", in.describe())
	}
}

func (in input) describe() string {
	switch {
	case in.status != nil:
		return fmt.Sprintf("status %s", *in.status)
	case in.reading != nil:
		return fmt.Sprintf("%.0f W reading", in.reading.Watts)
	case in.key != nil:
		return fmt.Sprintf("key %q", in.key.Key)
	default:
		return "empty event"
	}
}

// ListenFrames registers ch to receive every flushed frame. Returns a
// deregistration function.
func (b *Bridge) ListenFrames(ch chan<- Update) func() {
	return b.frameEvent.Listen(ch)
}

// Run consumes the event queue until ctx is cancelled or the sink fails.
// Sink failures are fatal: a vanished virtual device cannot recover.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-b.queue:
			if err := b.handle(in); err != nil {
				return err
			}
		}
	}
}

func (b *Bridge) handle(in input) error {
	switch {
	case in.status != nil:
		if b.linkState == ble.StateSubscribed && in.status.State != ble.StateSubscribed {
			// Stale samples must not bleed into the next session.
			b.filter.Reset()
			b.logger.Printf("Bridge: link left subscribed state (%s), filter reset", *in.status)
		}
		b.linkState = in.status.State

	case in.reading != nil:
		if b.linkState != ble.StateSubscribed {
			b.logger.Printf("Bridge: discarding %.0f W reading, link not subscribed", in.reading.Watts)
			return nil
		}
		smoothed, ok := b.filter.Accept(in.reading.Watts)
		if !ok {
			return nil
		}
		b.smoothed = smoothed
		return b.flush()

	case in.key != nil:
		button, bound := b.binding[in.key.Key]
		if !bound {
			return nil
		}
		if b.buttons[button] == in.key.Pressed {
			return nil
		}
		b.buttons[button] = in.key.Pressed
		return b.flush()
	}
	return nil
}

func (b *Bridge) flush() error {
	frame := pad.Frame{
		TriggerRatio: b.curve.Compute(b.smoothed),
		Buttons:      make(map[pad.Button]bool, len(b.buttons)),
	}
	for button, pressed := range b.buttons {
		frame.Buttons[button] = pressed
	}

	if err := b.sink.Apply(frame); err != nil {
		return fmt.Errorf("applying frame: %w", err)
	}

	fmt.Fprintf(b.out, "%.0f W → Trigger: %.2f\n", b.smoothed, frame.TriggerRatio)
	b.frameEvent.Notify(Update{Watts: b.smoothed, Frame: frame})
	return nil
}
