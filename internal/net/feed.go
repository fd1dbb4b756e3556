package net

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"mimir/internal/common"
)

const defaultFeedInterval = time.Second

// DepthSource is the read-only book surface the feed consumes.
type DepthSource interface {
	GetOrderInfos() common.Depth
	Size() int
}

// Feed serves aggregated depth snapshots over websocket on /depth and the
// prometheus registry on /metrics.
type Feed struct {
	address  string
	source   DepthSource
	interval time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewFeed(address string, source DepthSource) *Feed {
	return &Feed{
		address:  address,
		source:   source,
		interval: defaultFeedInterval,
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// Run serves until the tomb dies.
func (f *Feed) Run(t *tomb.Tomb) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/depth", f.handleDepth)

	srv := &http.Server{Addr: f.address, Handler: mux}
	t.Go(func() error {
		<-t.Dying()
		return srv.Close()
	})
	t.Go(func() error {
		return f.broadcast(t)
	})

	log.Info().Str("address", f.address).Msg("depth feed running")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (f *Feed) handleDepth(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	f.mu.Lock()
	f.clients[conn] = struct{}{}
	f.mu.Unlock()
	log.Info().Str("address", conn.RemoteAddr().String()).Msg("depth subscriber added")

	// Drain control frames; a read error means the subscriber left.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				f.drop(conn)
				return
			}
		}
	}()
}

func (f *Feed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[conn]; ok {
		delete(f.clients, conn)
		conn.Close()
	}
}

// broadcast pushes a depth snapshot to every subscriber each interval.
func (f *Feed) broadcast(t *tomb.Tomb) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			depth := f.source.GetOrderInfos()

			f.mu.Lock()
			conns := make([]*websocket.Conn, 0, len(f.clients))
			for conn := range f.clients {
				conns = append(conns, conn)
			}
			f.mu.Unlock()

			for _, conn := range conns {
				if err := conn.WriteJSON(depth); err != nil {
					f.drop(conn)
				}
			}
		}
	}
}
