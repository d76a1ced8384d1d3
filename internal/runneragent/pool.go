package runneragent

// Pool bounds how many ansible-playbook processes the agent runs at once.
// It is a token bucket over a buffered channel: one token per process
// slot, and the capacity advertised in ready messages is the tokens left.
type Pool struct {
	tokens chan struct{}
}

// NewPool creates a pool with capacity for maxRuns concurrent processes
func NewPool(maxRuns int) *Pool {
	p := &Pool{tokens: make(chan struct{}, maxRuns)}
	for i := 0; i < maxRuns; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

// Acquire claims a process slot without blocking; false means the agent
// is already at capacity and the run must be refused.
func (p *Pool) Acquire() bool {
	select {
	case <-p.tokens:
		return true
	default:
		return false
	}
}

// Release returns a slot. Releasing more than was acquired is a no-op,
// so capacity never grows past what NewPool granted.
func (p *Pool) Release() {
	select {
	case p.tokens <- struct{}{}:
	default:
	}
}

// Available returns the number of free slots
func (p *Pool) Available() int {
	return len(p.tokens)
}

// MaxRuns returns the pool capacity
func (p *Pool) MaxRuns() int {
	return cap(p.tokens)
}
