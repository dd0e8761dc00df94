package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/srg/vecs/internal/loop"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// countdown prints "<prefix> (Ns)" on one line until stopped.
//
// The caller must call Stop to release the goroutine. Stop is safe to call
// more than once.
type countdown struct {
	w        io.Writer
	prefix   string
	duration time.Duration
	start    time.Time
	active   bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// startCountdown starts the display. Nothing is printed when w is not a terminal.
func startCountdown(w io.Writer, prefix string, duration time.Duration) *countdown {
	ctx, cancel := context.WithCancel(context.Background())
	c := &countdown{w: w, prefix: prefix, duration: duration, start: time.Now(), cancel: cancel, done: make(chan struct{})}

	if !isTerminal(w) {
		close(c.done)
		return c
	}

	c.active = true
	c.print()
	loop.Go(ctx, "progress", func(ctx context.Context) {
		defer close(c.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				c.mu.Lock()
				c.active = false
				fmt.Fprint(c.w, clearLineSequence)
				c.mu.Unlock()
				return
			case <-ticker.C:
				c.print()
			}
		}
	})
	return c
}

func (c *countdown) print() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.render()
}

// render must be called with mu held
func (c *countdown) render() {
	if c.duration <= 0 {
		fmt.Fprintf(c.w, "\r%s (Ctrl+C to stop)   ", c.prefix)
		return
	}
	remaining := c.duration - time.Since(c.start)
	if remaining < 0 {
		remaining = 0
	}
	// Round to the nearest second, 3.7s -> 4s
	fmt.Fprintf(c.w, "\r%s (%ds)   ", c.prefix, int(remaining.Seconds()+0.5))
}

// Println writes line above the countdown and repaints it
func (c *countdown) Println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		fmt.Fprintln(c.w, line)
		return
	}
	fmt.Fprint(c.w, clearLineSequence)
	fmt.Fprintln(c.w, line)
	c.render()
}

// Stop clears the line and waits for the display goroutine to exit
func (c *countdown) Stop() {
	c.once.Do(func() {
		c.cancel()
		<-c.done
	})
}
