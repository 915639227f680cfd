// Package remote bridges network control datagrams onto the engine's intent
// queue. Datagrams carry newline-delimited intent names; anything that does
// not resolve to a known intent is logged and dropped here, so the engine
// only ever sees resolved intents.

package remote

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/libp2p/go-reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"example.com/bendulum-clock/base/metrics"
	"example.com/bendulum-clock/core/engine"
	"example.com/bendulum-clock/core/intent"
)

const queueDepth = 16

type listenerMetrics struct {
	accepted prometheus.Counter
	dropped  prometheus.Counter
}

func newListenerMetrics() *listenerMetrics {
	return &listenerMetrics{
		accepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.RemoteIntentsAcceptedN,
			Help: metrics.RemoteIntentsAcceptedH,
		}),
		dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.RemoteIntentsDroppedN,
			Help: metrics.RemoteIntentsDroppedH,
		}),
	}
}

type Listener struct {
	log  *zap.Logger
	conn net.PacketConn
	ch   chan intent.Intent
	mtr  *listenerMetrics
}

var _ engine.IntentSource = (*Listener)(nil)

// StartListener binds the intent bridge and begins draining datagrams.
func StartListener(ctx context.Context, log *zap.Logger, addr string) (*Listener, error) {
	conn, err := reuseport.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		log:  log,
		conn: conn,
		ch:   make(chan intent.Intent, queueDepth),
		mtr:  newListenerMetrics(),
	}
	log.Info("listening for intents", zap.Stringer("addr", conn.LocalAddr()))
	go l.run(ctx)
	return l, nil
}

// PollIntent hands over the oldest queued intent without blocking.
func (l *Listener) PollIntent() (intent.Intent, bool) {
	select {
	case i := <-l.ch:
		return i, true
	default:
		return 0, false
	}
}

// run drains datagrams until the context is canceled or the connection is
// closed. Transient read errors must not kill the bridge; without it the
// engine could never be adjusted or canceled again.
func (l *Listener) run(ctx context.Context) {
	defer l.conn.Close()
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()
	buf := make([]byte, 512)
	for {
		n, raddr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Error("failed to read intent datagram", zap.Error(err))
			continue
		}
		for _, name := range strings.Fields(string(buf[:n])) {
			i, ok := intent.Parse(name)
			if !ok {
				l.drop()
				l.log.Warn("unresolvable intent",
					zap.String("name", name),
					zap.Stringer("from", raddr),
				)
				continue
			}
			select {
			case l.ch <- i:
				l.accept()
				l.log.Debug("intent accepted",
					zap.Stringer("intent", i),
					zap.Stringer("from", raddr),
				)
			default:
				// The control loop is behind; shedding stale inputs
				// beats acting on them late.
				l.drop()
				l.log.Warn("intent queue full, dropping",
					zap.Stringer("intent", i),
				)
			}
		}
	}
}

func (l *Listener) accept() {
	if l.mtr != nil {
		l.mtr.accepted.Inc()
	}
}

func (l *Listener) drop() {
	if l.mtr != nil {
		l.mtr.dropped.Inc()
	}
}
