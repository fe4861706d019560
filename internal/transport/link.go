package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/devsession/internal/protocol/frame"
	"github.com/danmuck/devsession/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

type outbound struct {
	transID string
	payload []byte
	request bool
}

// peerLink owns the connection to one peer and the goroutine writing to it.
type peerLink struct {
	t        *Transport
	peer     string
	dialable bool

	out      chan outbound
	done     chan struct{}
	stopOnce sync.Once

	mu sync.Mutex
	nc net.Conn
	// inflight holds requests written on nc that still await a response.
	inflight map[string]struct{}
}

// newLink requires t.mu to be held.
func (t *Transport) newLink(peer string, dialable bool) *peerLink {
	pl := &peerLink{
		t:        t,
		peer:     peer,
		dialable: dialable,
		out:      make(chan outbound, outboundBacklog),
		done:     make(chan struct{}),
	}
	t.wg.Add(1)
	go pl.writeLoop()
	return pl
}

func (pl *peerLink) enqueue(ob outbound) error {
	select {
	case <-pl.done:
		return ErrClosed
	default:
	}
	select {
	case pl.out <- ob:
		return nil
	case <-pl.done:
		return ErrClosed
	default:
		return ErrBacklogFull
	}
}

func (pl *peerLink) writeLoop() {
	defer pl.t.wg.Done()
	for {
		select {
		case <-pl.done:
			return
		case <-pl.t.ctx.Done():
			return
		case ob := <-pl.out:
			pl.write(ob)
		}
	}
}

func (pl *peerLink) write(ob outbound) {
	nc, err := pl.ensureConn()
	if err != nil {
		log.Warn().Err(err).Str("peer", pl.peer).Str("trans_id", ob.transID).Msg("transport.peerLink no connection")
		if ob.request {
			pl.t.fail(ob.transID, statusFor(err))
		}
		return
	}
	if ob.request {
		pl.track(nc, ob.transID)
	}
	_ = nc.SetWriteDeadline(time.Now().Add(pl.t.cfg.WriteTimeout))
	if _, err := nc.Write(ob.payload); err != nil {
		log.Warn().Err(err).Str("peer", pl.peer).Msg("transport.peerLink write failed")
		_ = nc.Close()
	}
}

func (pl *peerLink) ensureConn() (net.Conn, error) {
	if nc := pl.current(); nc != nil {
		return nc, nil
	}
	if !pl.dialable {
		return nil, ErrNoRoute
	}
	nc, err := pl.t.dialPeer(pl.peer)
	if err != nil {
		return nil, err
	}
	if !pl.attach(nc) {
		return nil, ErrClosed
	}
	log.Info().Str("peer", pl.peer).Msg("transport.peerLink connected")
	return nc, nil
}

// attach makes nc the link's connection and starts reading from it.
func (pl *peerLink) attach(nc net.Conn) bool {
	select {
	case <-pl.done:
		_ = nc.Close()
		return false
	default:
	}
	pl.mu.Lock()
	pl.nc = nc
	pl.inflight = make(map[string]struct{})
	pl.mu.Unlock()

	pl.t.wg.Add(1)
	go pl.readLoop(nc)
	return true
}

func (pl *peerLink) readLoop(nc net.Conn) {
	defer pl.t.wg.Done()
	reader := bufio.NewReader(nc)
	for {
		_ = nc.SetReadDeadline(time.Now().Add(pl.t.cfg.ReadTimeout))
		f, err := frame.ReadFrame(reader, frame.DefaultLimits())
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Str("peer", pl.peer).Msg("transport.peerLink read ended")
			}
			break
		}
		pl.t.handleFrame(pl, f)
	}
	pl.t.linkLost(pl, pl.detach(nc))
}

// detach clears nc from the link and returns the requests left unanswered.
func (pl *peerLink) detach(nc net.Conn) []string {
	_ = nc.Close()
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.nc != nc {
		return nil
	}
	ids := make([]string, 0, len(pl.inflight))
	for id := range pl.inflight {
		ids = append(ids, id)
	}
	pl.nc = nil
	pl.inflight = nil
	return ids
}

func (pl *peerLink) track(nc net.Conn, transID string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.nc == nc {
		pl.inflight[transID] = struct{}{}
	}
}

func (pl *peerLink) forget(transID string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	delete(pl.inflight, transID)
}

func (pl *peerLink) current() net.Conn {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.nc
}

// closeConn closes the open connection, if any. The read loop reports the
// loss.
func (pl *peerLink) closeConn() bool {
	nc := pl.current()
	if nc == nil {
		return false
	}
	_ = nc.Close()
	return true
}

func (pl *peerLink) shutdown() {
	pl.stopOnce.Do(func() {
		close(pl.done)
	})
	pl.closeConn()
}

func statusFor(err error) uint32 {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return session.StatusTimeout
	}
	return session.StatusUnavailable
}
