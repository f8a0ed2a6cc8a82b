package gate

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"
)

// Latch is a one-shot release signal. The zero value is not usable; use New.
type Latch struct {
	once sync.Once
	ch   chan struct{}

	armOnce sync.Once
	mu      sync.Mutex
	arm     func()
}

func New() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Release opens the latch. It reports whether this call was the one that
// opened it.
func (l *Latch) Release() bool {
	released := false
	l.once.Do(func() {
		close(l.ch)
		released = true
	})
	return released
}

// Released reports whether the latch is open.
func (l *Latch) Released() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// OnFirstWait registers fn to run once, at the start of the first Wait.
// Sources of release that must not fire early are started from here.
func (l *Latch) OnFirstWait(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.arm = fn
}

// Wait blocks until the latch is released or ctx is done.
func (l *Latch) Wait(ctx context.Context) error {
	l.armOnce.Do(func() {
		l.mu.Lock()
		fn := l.arm
		l.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseOnLine releases l when a line (or a final unterminated chunk) is
// read from r. Reading stops when ctx ends or l is released elsewhere; the
// goroutine may stay parked in Read until r yields.
func ReleaseOnLine(ctx context.Context, r io.Reader, l *Latch) {
	go func() {
		line := make(chan struct{}, 1)
		go func() {
			br := bufio.NewReader(r)
			s, err := br.ReadString('\n')
			if err == nil || (err == io.EOF && s != "") {
				line <- struct{}{}
				return
			}
			if err != io.EOF {
				slog.Debug("manual auth reader failed", "error", err)
			}
		}()

		select {
		case <-line:
			if l.Release() {
				slog.Info("manual login confirmed from console")
			}
		case <-l.ch:
		case <-ctx.Done():
		}
	}()
}
