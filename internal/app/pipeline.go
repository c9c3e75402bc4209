package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/fewshot/internal/capture"
	"github.com/ayusman/fewshot/internal/session"
)

// Run is the frame loop. Each iteration:
//  1. polls at most one command (sources in order, then the mailbox)
//  2. reads a frame; a failed read is retried on the next iteration
//  3. steps the session
//  4. publishes the result to every sink
//
// It returns nil when the session reports quit, the context is cancelled,
// MaxFrames is reached or a finite source ends.
func (a *App) Run(ctx context.Context) error {
	if err := a.camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer func() {
		if err := a.camera.Close(); err != nil {
			a.log.Warnf("Error closing camera: %v", err)
		}
	}()

	sources := append(Sources{}, a.sources...)
	sources = append(sources, a.mailbox)

	a.log.Infof("Frame loop started")
	defer a.log.Infof("Frame loop stopped")

	var (
		frames     int
		pending    = session.None
		readErrors int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if a.config.MaxFrames > 0 && frames >= a.config.MaxFrames {
			a.log.Infof("Reached %d frames", frames)
			return nil
		}

		// A command polled while the camera is failing is kept for the
		// next frame that arrives.
		if pending.IsNone() {
			pending = sources.Poll()
		}

		start := time.Now()
		frame, err := a.camera.ReadFrame()
		if err != nil {
			if errors.Is(err, capture.ErrEndOfStream) {
				a.log.Infof("Frame source ended after %d frames", frames)
				return nil
			}
			readErrors++
			if readErrors == 1 || readErrors%100 == 0 {
				a.log.Warnf("Error reading frame (%d in a row): %v", readErrors, err)
			}
			if !a.sleep(ctx, a.config.ReadRetryDelay) {
				return nil
			}
			continue
		}
		readErrors = 0
		now := a.timer.Since(StageRead, start)

		out := a.session.Step(frame, pending)
		pending = session.None
		if out.BackboneLatency > 0 {
			a.timer.Record(StageBackbone, out.BackboneLatency)
		}
		now = a.timer.Since(StageStep, now)

		a.setStatus(out)
		u := Update{Frame: frame, Output: out, Timing: a.timer.Snapshot()}
		for _, s := range a.sinks {
			if err := s.Publish(u); err != nil {
				a.log.Warnf("Sink %T failed at frame %d: %v", s, out.Frame, err)
			}
		}
		a.timer.Since(StagePublish, now)
		frame.Close()

		a.timer.Tick()
		frames++
		if a.config.TimingEvery > 0 && frames%a.config.TimingEvery == 0 {
			a.log.Infof("Timing: %v", a.timer.Snapshot())
		}

		if out.Quit {
			a.log.Infof("Quit requested at frame %d", out.Frame)
			return nil
		}
	}
}

// sleep waits for d or until ctx is done. It reports false if ctx ended.
func (a *App) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
