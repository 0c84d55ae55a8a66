package server

import "sync"

// notifier broadcasts the name of a problem whose leaderboard changed to
// every subscribed event stream.
type notifier struct {
	mu        sync.RWMutex
	listeners map[chan string]struct{}
}

func newNotifier() *notifier {
	return &notifier{listeners: make(map[chan string]struct{})}
}

// subscribe returns a channel receiving problem names. The caller must
// unsubscribe when done.
func (n *notifier) subscribe() chan string {
	ch := make(chan string, 4)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

func (n *notifier) unsubscribe(ch chan string) {
	n.mu.Lock()
	delete(n.listeners, ch)
	n.mu.Unlock()
	close(ch)
}

// broadcast never blocks; a listener with a full buffer misses the event.
func (n *notifier) broadcast(problem string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.listeners {
		select {
		case ch <- problem:
		default:
		}
	}
}
