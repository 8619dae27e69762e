package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/duetcall/duet/internal/core"
	"github.com/duetcall/duet/internal/domain"
)

// Registry tracks live signal connections by socket id. It is the only
// way outbound events reach a socket; an unbound id simply drops.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.SocketID]core.SignalConnection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.SocketID]core.SignalConnection)}
}

func (r *Registry) Bind(sid domain.SocketID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sid] = conn
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) Unbind(sid domain.SocketID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind signal")
}

func (r *Registry) Get(sid domain.SocketID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[sid]
	return conn, ok
}
