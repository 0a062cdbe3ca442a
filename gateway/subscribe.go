package gateway

import "github.com/notnil/canguard"

type subscriber struct {
	filter canguard.FrameFilter
	ch     chan canguard.Frame
}

// Subscribe registers for valid received frames matching filter (nil matches
// all). Delivery never blocks the receive path: frames are dropped when the
// channel buffer is full. The returned cancel func closes the channel; the
// channel is also closed when Run returns.
func (g *Gateway) Subscribe(filter canguard.FrameFilter, buffer int) (<-chan canguard.Frame, func()) {
	if buffer < 0 {
		buffer = 0
	}
	s := &subscriber{filter: filter, ch: make(chan canguard.Frame, buffer)}
	g.mu.Lock()
	id := g.next
	g.next++
	g.subs[id] = s
	g.mu.Unlock()

	cancel := func() {
		g.mu.Lock()
		if cur, ok := g.subs[id]; ok && cur == s {
			close(cur.ch)
			delete(g.subs, id)
		}
		g.mu.Unlock()
	}
	return s.ch, cancel
}

func (g *Gateway) publish(f canguard.Frame) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, s := range g.subs {
		if s.filter != nil && !s.filter(f) {
			continue
		}
		select {
		case s.ch <- f:
		default:
			g.stats.dropped.Add(1)
		}
	}
}

func (g *Gateway) closeSubscribers() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, s := range g.subs {
		close(s.ch)
		delete(g.subs, id)
	}
}
