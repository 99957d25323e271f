package browser

import (
	"context"
	"fmt"
	"sync"

	"browsernerd-actions/internal/action"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

type netEntry struct {
	seq      uint64
	status   int
	redirect bool
	failed   bool
}

type sessionNet struct {
	seq     uint64
	entries []netEntry
	// unavailable is set when network events could not be enabled.
	unavailable error
}

// NetworkMonitor keeps a bounded log of response outcomes per session and
// implements action.Network on top of it.
type NetworkMonitor struct {
	max int

	mu       sync.Mutex
	sessions map[string]*sessionNet
}

// NewNetworkMonitor keeps at most max entries per session.
func NewNetworkMonitor(max int) *NetworkMonitor {
	if max <= 0 {
		max = 4096
	}
	return &NetworkMonitor{max: max, sessions: make(map[string]*sessionNet)}
}

// Record appends one response outcome for a session.
func (n *NetworkMonitor) Record(sessionID string, status int, redirect, failed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sessions[sessionID]
	if !ok {
		s = &sessionNet{}
		n.sessions[sessionID] = s
	}
	s.seq++
	s.entries = append(s.entries, netEntry{seq: s.seq, status: status, redirect: redirect, failed: failed})
	if over := len(s.entries) - n.max; over > 0 {
		s.entries = append(s.entries[:0], s.entries[over:]...)
	}
}

// Mark returns the sequence number of the latest recorded response.
func (n *NetworkMonitor) Mark(_ context.Context, route action.Route) (action.NetMark, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.sessions[route.SessionID]; ok {
		return action.NetMark(s.seq), nil
	}
	return 0, nil
}

// Digest classifies responses recorded after since. Entries already evicted
// from the bounded log are not counted.
func (n *NetworkMonitor) Digest(_ context.Context, route action.Route, since action.NetMark) (action.NetDigest, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var d action.NetDigest
	s, ok := n.sessions[route.SessionID]
	if !ok {
		return d, nil
	}
	if s.unavailable != nil {
		return d, fmt.Errorf("network events unavailable: %w", s.unavailable)
	}
	for _, e := range s.entries {
		if e.seq <= uint64(since) {
			continue
		}
		if e.failed {
			d.Failed++
			continue
		}
		if e.redirect {
			d.Redirects++
		}
		switch {
		case e.status >= 500:
			d.Res5xx++
		case e.status >= 400:
			d.Res4xx++
		case e.status >= 300:
			d.Res3xx++
		case e.status >= 200:
			d.Res2xx++
		}
	}
	return d, nil
}

// NetStats summarizes a session's network log.
type NetStats struct {
	// Recorded counts every response seen, including evicted ones.
	Recorded uint64 `json:"recorded"`
	Retained int    `json:"retained"`
	Capacity int    `json:"capacity"`
	// Unavailable holds the reason network events could not be enabled.
	Unavailable string `json:"unavailable,omitempty"`
}

// Stats reports the log state of one session. Unknown sessions have an empty log.
func (n *NetworkMonitor) Stats(sessionID string) NetStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := NetStats{Capacity: n.max}
	s, ok := n.sessions[sessionID]
	if !ok {
		return st
	}
	st.Recorded = s.seq
	st.Retained = len(s.entries)
	if s.unavailable != nil {
		st.Unavailable = s.unavailable.Error()
	}
	return st
}

// Forget drops a session's log.
func (n *NetworkMonitor) Forget(sessionID string) {
	n.mu.Lock()
	delete(n.sessions, sessionID)
	n.mu.Unlock()
}

// markUnavailable makes later digests for the session fail instead of
// reporting an empty window.
func (n *NetworkMonitor) markUnavailable(sessionID string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sessions[sessionID]
	if !ok {
		s = &sessionNet{}
		n.sessions[sessionID] = s
	}
	s.unavailable = err
}

// Watch streams the page's network events into the log until ctx ends.
func (n *NetworkMonitor) Watch(ctx context.Context, sessionID string, page *rod.Page) error {
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		n.markUnavailable(sessionID, err)
		return fmt.Errorf("enable network events: %w", err)
	}

	wait := page.Context(ctx).EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			if ev.RedirectResponse != nil {
				n.Record(sessionID, ev.RedirectResponse.Status, true, false)
			}
		},
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response != nil {
				n.Record(sessionID, ev.Response.Status, false, false)
			}
		},
		func(ev *proto.NetworkLoadingFailed) {
			if !ev.Canceled {
				n.Record(sessionID, 0, false, true)
			}
		},
	)
	go wait()
	return nil
}

var _ action.Network = (*NetworkMonitor)(nil)
