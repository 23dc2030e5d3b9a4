// Package hardware wraps the GPIO outputs and the clock devices of the node.
package hardware

import (
	"errors"
	"sync"
)

// Pin is a digital output.
type Pin interface {
	On() error
	Off() error
	Toggle() error
	State() bool
}

// Board groups the valve relay and the status LED.
type Board struct {
	Relay Pin
	LED   Pin
	close func() error
}

// Close releases the GPIO lines. The relay is driven off first.
func (b *Board) Close() error {
	err := b.Relay.Off()
	if b.close != nil {
		err = errors.Join(err, b.close())
	}
	return err
}

// NewBoard assembles a board; closeFn releases the underlying adaptor and
// may be nil.
func NewBoard(relay, led Pin, closeFn func() error) *Board {
	return &Board{Relay: relay, LED: led, close: closeFn}
}

// NewSimBoard returns a board backed by in-memory pins.
func NewSimBoard() *Board {
	return &Board{Relay: &SimPin{}, LED: &SimPin{}}
}

// SimPin is an in-memory Pin that records its writes.
type SimPin struct {
	mu     sync.Mutex
	state  bool
	writes int
	err    error
}

func (p *SimPin) set(v bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.state = v
	p.writes++
	return nil
}

func (p *SimPin) On() error  { return p.set(true) }
func (p *SimPin) Off() error { return p.set(false) }

func (p *SimPin) Toggle() error {
	return p.set(!p.State())
}

func (p *SimPin) State() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Writes returns the number of successful writes.
func (p *SimPin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Fail makes every following write return err; nil clears it.
func (p *SimPin) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}
