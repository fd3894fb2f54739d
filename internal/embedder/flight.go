package embedder

import "sync"

// flightCall is one in-flight provider computation for a cache key
type flightCall struct {
	done chan struct{}
	vec  []float32
	err  error

	// abandoned is set when the leader's own context ended; waiters claim the key again
	abandoned bool
}

// flightGroup collapses concurrent misses: the first caller to claim a key
// leads its computation and every later caller waits for the leader's result.
// Keys are claimed in batches so a leader sends all of its keys in one request.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

func newFlightGroup() *flightGroup {
	return &flightGroup{calls: make(map[string]*flightCall)}
}

// claim splits keys into those the caller now leads and those already in flight.
func (g *flightGroup) claim(keys []string) (lead []string, wait map[string]*flightCall) {
	g.mu.Lock()
	defer g.mu.Unlock()

	wait = make(map[string]*flightCall)
	for _, key := range keys {
		if c, ok := g.calls[key]; ok {
			wait[key] = c
			continue
		}
		g.calls[key] = &flightCall{done: make(chan struct{})}
		lead = append(lead, key)
	}
	return lead, wait
}

// finish publishes the result of a led key and releases its waiters.
func (g *flightGroup) finish(key string, vec []float32, err error) {
	g.release(key, func(c *flightCall) {
		c.vec = vec
		c.err = err
	})
}

// abandon releases a led key without a result.
func (g *flightGroup) abandon(key string) {
	g.release(key, func(c *flightCall) { c.abandoned = true })
}

func (g *flightGroup) release(key string, set func(*flightCall)) {
	g.mu.Lock()
	c, ok := g.calls[key]
	delete(g.calls, key)
	g.mu.Unlock()

	if !ok {
		return
	}
	set(c)
	close(c.done)
}

// inFlight returns the number of keys currently being computed
func (g *flightGroup) inFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
