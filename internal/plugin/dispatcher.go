package plugin

import (
	"context"
	"sync"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/fewshot/internal/app"
	"github.com/ayusman/fewshot/internal/session"
)

// DefaultQueue is the number of pending events before new ones are dropped.
const DefaultQueue = 32

// Dispatcher turns session output into plugin events. It is an app.Sink and
// an app.TransitionRecorder. Plugins run on a single background goroutine in
// event order, so a slow plugin delays later events but never the frame loop.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	log      logs.Log
	queue    chan Request
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu         sync.Mutex
	prediction int
	dropped    int
	closed     bool
}

// NewDispatcher starts the dispatch goroutine.
func NewDispatcher(m *Manager, e *Executor, queue int, log logs.Log) *Dispatcher {
	if queue <= 0 {
		queue = DefaultQueue
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		manager:    m,
		executor:   e,
		log:        log,
		queue:      make(chan Request, queue),
		ctx:        ctx,
		cancel:     cancel,
		prediction: -1,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for req := range d.queue {
		for _, p := range d.manager.Subscribers(req.Event) {
			resp, err := d.executor.Execute(d.ctx, p, req)
			if err != nil {
				d.log.Warnf("Plugin %v on %v: %v", p.Manifest.Name, req.Event, err)
				continue
			}
			if !resp.Success {
				d.log.Warnf("Plugin %v on %v reported: %v", p.Manifest.Name, req.Event, resp.Error)
			}
		}
	}
}

// enqueue must be called with d.mu held.
func (d *Dispatcher) enqueue(req Request) {
	if d.closed {
		return
	}
	select {
	case d.queue <- req:
	default:
		d.dropped++
		if d.dropped == 1 || d.dropped%100 == 0 {
			d.log.Warnf("Plugin queue full, %v events dropped", d.dropped)
		}
	}
}

// Publish emits a prediction event each time the predicted class changes.
func (d *Dispatcher) Publish(u app.Update) error {
	out := u.Output
	d.mu.Lock()
	defer d.mu.Unlock()

	if out.State != session.StateInference || out.Prediction < 0 {
		d.prediction = -1
		return nil
	}
	if out.Prediction == d.prediction {
		return nil
	}
	d.prediction = out.Prediction

	class := out.Prediction
	req := Request{
		Event: EventPrediction,
		Frame: out.Frame,
		State: out.State.String(),
		Class: &class,
	}
	for i, id := range out.ClassIDs {
		if id == class && i < len(out.Probabilities) {
			req.Probability = out.Probabilities[i]
		}
	}
	d.enqueue(req)
	return nil
}

// RecordTransition emits a transition event.
func (d *Dispatcher) RecordTransition(tr session.Transition) {
	req := Request{
		Event: EventTransition,
		Frame: tr.Frame,
		State: tr.To.String(),
		From:  tr.From.String(),
	}
	if tr.Err != nil {
		req.Error = tr.Err.Error()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueue(req)
}

// Dropped returns the number of events lost to a full queue.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close runs the queued events and waits for them.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
	return nil
}
