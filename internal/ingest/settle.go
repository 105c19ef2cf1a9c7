package ingest

import "sync/atomic"

// outcome is the terminal result of one Ingest call
type outcome struct {
	result Result
	err    error
	source string
}

// settlement admits the first outcome offered to it and discards the rest
type settlement struct {
	settled atomic.Bool
	done    chan struct{}
	won     outcome
}

func newSettlement() *settlement {
	return &settlement{done: make(chan struct{})}
}

// settle records o if nothing has settled yet and reports whether it won
func (s *settlement) settle(o outcome) bool {
	if !s.settled.CompareAndSwap(false, true) {
		return false
	}
	s.won = o
	close(s.done)
	return true
}

// Done is closed once an outcome has been recorded
func (s *settlement) Done() <-chan struct{} {
	return s.done
}

// winner returns the admitted outcome; only valid after Done is closed
func (s *settlement) winner() outcome {
	return s.won
}
