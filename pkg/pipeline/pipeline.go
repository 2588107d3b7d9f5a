// Package pipeline links a registered ordered list of elements by
// chaining output->input ringbuffers, broadcasts transport commands to
// every element, and forwards every element's events through a single
// listener, per §4.3.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/liteplayer-go/liteplayer/pkg/element"
	"github.com/liteplayer-go/liteplayer/pkg/types"
)

// Pipeline is an ordered registry of elements plus the ringbuffers
// wired between them.
type Pipeline struct {
	log      *slog.Logger
	order    []string
	elements map[string]*element.Element
	listener types.EventListener
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates an empty pipeline.
func New(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		log:      logger,
		elements: make(map[string]*element.Element),
	}
}

// Register inserts an element under `name`, appending it to pipeline
// order. Each element's events are wired to the pipeline's aggregated
// listener.
func (p *Pipeline) Register(name string, el *element.Element) {
	p.order = append(p.order, name)
	p.elements[name] = el
	el.SetEventListener(func(evt types.Event) {
		p.forward(name, evt)
	})
}

// SetEventListener installs the single listener the pipeline forwards
// every registered element's events through (arrival order per
// element, no cross-element ordering guarantee).
func (p *Pipeline) SetEventListener(l types.EventListener) { p.listener = l }

func (p *Pipeline) forward(name string, evt types.Event) {
	if evt.Source == "" {
		evt.Source = name
	}
	if p.listener != nil {
		p.listener(evt)
	}
}

// Link creates ringbuffers between consecutive named elements:
// a.out = rb1 = b.in, b.out = rb2 = c.in, sized by the downstream
// element's configured OutRbSize (the output ringbuffer each element
// already owns from element.New).
func (p *Pipeline) Link(names []string) error {
	for i := 0; i+1 < len(names); i++ {
		upstream, ok := p.elements[names[i]]
		if !ok {
			return fmt.Errorf("pipeline: unknown element %q", names[i])
		}
		downstream, ok := p.elements[names[i+1]]
		if !ok {
			return fmt.Errorf("pipeline: unknown element %q", names[i+1])
		}
		rb := upstream.OutputRingbuf()
		if rb == nil {
			return fmt.Errorf("pipeline: element %q has no output ringbuffer to link", names[i])
		}
		downstream.SetInputRingbuf(rb)
	}
	return nil
}

// Get returns the element registered under name, or nil.
func (p *Pipeline) Get(name string) *element.Element { return p.elements[name] }

// Run spawns every element's task goroutine and broadcasts RESUME in
// pipeline order (producers first).
func (p *Pipeline) Run(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for _, name := range p.order {
		p.elements[name].Run(p.ctx)
	}
	for _, name := range p.order {
		p.elements[name].Resume()
	}
}

// Pause broadcasts PAUSE in pipeline order.
func (p *Pipeline) Pause() {
	for _, name := range p.order {
		p.elements[name].Pause()
	}
}

// Resume broadcasts RESUME in pipeline order.
func (p *Pipeline) Resume() {
	for _, name := range p.order {
		p.elements[name].Resume()
	}
}

// Stop broadcasts STOP in reverse pipeline order so producers stop
// before the consumers that drain them.
func (p *Pipeline) Stop() {
	for i := len(p.order) - 1; i >= 0; i-- {
		p.elements[p.order[i]].Stop()
	}
}

// Seek broadcasts SEEK(offset) to every element in pipeline order.
func (p *Pipeline) Seek(offset int64) {
	for _, name := range p.order {
		p.elements[name].Seek(offset)
	}
}

// WaitForStop blocks, in reverse order, until every element reports
// stopped or the per-element timeoutMs elapses.
func (p *Pipeline) WaitForStop(timeoutMs int) bool {
	ok := true
	for i := len(p.order) - 1; i >= 0; i-- {
		if !p.elements[p.order[i]].WaitForStopMs(timeoutMs) {
			ok = false
		}
	}
	return ok
}

// ResetRingbuffer resets every element's owned output ringbuffer, in
// reverse order. Callers must have quiesced the pipeline first.
func (p *Pipeline) ResetRingbuffer() {
	for i := len(p.order) - 1; i >= 0; i-- {
		p.elements[p.order[i]].ResetRingbuf()
	}
}

// Destroy terminates every element's task goroutine (reverse order)
// and waits for them to exit. Calling Stop, then WaitForStop, then
// Destroy must leave no goroutine alive regardless of the pipeline's
// state at the time Stop was called (§8 property 4).
func (p *Pipeline) Destroy() {
	if p.cancel != nil {
		p.cancel()
	}
	for i := len(p.order) - 1; i >= 0; i-- {
		p.elements[p.order[i]].Terminate()
	}
	for i := len(p.order) - 1; i >= 0; i-- {
		p.elements[p.order[i]].Wait()
	}
}
