package pipeline

import (
	"sync"

	"github.com/wintrack/wintrack/internal/frameproc"
)

// Lease is a named single-slot frame mailbox. The pipeline writes the most
// recent processed frame into each lease; a frame the consumer never picked
// up is replaced and counted dropped. Consumers read with Next or TryNext
// and must Release when done.
type Lease struct {
	name    string
	detach  func(*Lease)
	release sync.Once

	mu       sync.Mutex
	cond     *sync.Cond
	frame    *frameproc.Frame
	released bool
}

func newLease(name string, detach func(*Lease)) *Lease {
	l := &Lease{name: name, detach: detach}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Name returns the lease's identifier.
func (l *Lease) Name() string { return l.name }

// offer places a frame in the slot. The return is false when an unconsumed
// frame was superseded. Offers to a released lease are discarded quietly.
func (l *Lease) offer(f *frameproc.Frame) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return true
	}
	superseded := l.frame != nil
	l.frame = f
	l.cond.Signal()
	return !superseded
}

// Next blocks until a frame arrives or the lease is released. The second
// return is false only on release.
func (l *Lease) Next() (*frameproc.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.frame == nil && !l.released {
		l.cond.Wait()
	}
	if l.frame == nil {
		return nil, false
	}
	f := l.frame
	l.frame = nil
	return f, true
}

// TryNext consumes the slotted frame if one is waiting.
func (l *Lease) TryNext() (*frameproc.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frame == nil {
		return nil, false
	}
	f := l.frame
	l.frame = nil
	return f, true
}

// Release detaches the lease from the pipeline and wakes any blocked Next.
// Safe to call more than once.
func (l *Lease) Release() {
	l.release.Do(func() {
		l.mu.Lock()
		l.released = true
		l.frame = nil
		l.cond.Broadcast()
		l.mu.Unlock()
		if l.detach != nil {
			l.detach(l)
		}
	})
}
