package stream

import "sync"

// streamLimiter caps open streams per client IP and in total.
type streamLimiter struct {
	maxPerIP int
	maxTotal int

	mu    sync.Mutex
	open  map[string]int
	total int
}

func newStreamLimiter(maxPerIP, maxTotal int) *streamLimiter {
	return &streamLimiter{
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
		open:     make(map[string]int),
	}
}

// acquire registers a stream for ip. On success it returns a release func
// that is safe to call more than once.
func (l *streamLimiter) acquire(ip string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal || l.open[ip] >= l.maxPerIP {
		return nil, false
	}
	l.open[ip]++
	l.total++

	var once sync.Once
	return func() { once.Do(func() { l.release(ip) }) }, true
}

func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total--
	if l.open[ip]--; l.open[ip] <= 0 {
		delete(l.open, ip)
	}
}

// active returns the number of open streams across all IPs.
func (l *streamLimiter) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// count returns the number of open streams for ip.
func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open[ip]
}
