package _switch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/videocl/mesh/model"
)

const (
	defaultFwdTimeout = time.Second
)

// Switch is the delivery plane: a connection-id -> wire table with
// single-hop best-effort forwarding. It knows nothing about rooms or
// negotiation; membership snapshots come from the caller.
type Switch struct {
	logger     zerolog.Logger
	mx         *sync.RWMutex
	wires      map[string]model.Wire
	fwdTimeout time.Duration
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger:     logger.With().Str("component", "switch").Logger(),
		mx:         &sync.RWMutex{},
		wires:      make(map[string]model.Wire),
		fwdTimeout: defaultFwdTimeout,
	}
}

func (sw *Switch) Connect(connID string, wire model.Wire) {
	sw.mx.Lock()
	sw.wires[connID] = wire
	sw.mx.Unlock()
	sw.logger.Debug().Str("connID", connID).Msg("endpoint connected")
}

func (sw *Switch) Disconnect(connID string) {
	sw.mx.Lock()
	delete(sw.wires, connID)
	sw.mx.Unlock()
	sw.logger.Debug().Str("connID", connID).Msg("endpoint disconnected")
}

// Unicast forwards env to env.To. A missing target is not an error, the
// remote may have already left; the message is dropped and false returned.
func (sw *Switch) Unicast(ctx context.Context, env model.Envelope) bool {
	logger := sw.logger.With().
		Str("type", env.Type).
		Str("src", env.From).
		Str("dst", env.To).Logger()

	sw.mx.RLock()
	wire, ok := sw.wires[env.To]
	sw.mx.RUnlock()

	if !ok {
		logger.Debug().Msg("cannot forward, dst not found")
		return false
	}
	sent, _ := sw.send(ctx, env, wire.TX, &logger)
	return sent
}

// Broadcast forwards env to every member except env.From. Members without
// a wire are skipped. An unresponsive member only costs its own send
// timeout, delivery to the rest continues.
func (sw *Switch) Broadcast(ctx context.Context, env model.Envelope, members []string) {
	env.To = "" // clear dst just in case

	var sent bool
	for _, dst := range members {
		if dst == env.From {
			continue
		}
		sw.mx.RLock()
		wire, ok := sw.wires[dst]
		sw.mx.RUnlock()
		if !ok {
			continue
		}
		logger := sw.logger.With().
			Str("type", env.Type).
			Str("src", env.From).
			Str("dst", dst).Logger()
		memberSent, canceled := sw.send(ctx, env, wire.TX, &logger)
		if canceled {
			return
		}
		if memberSent {
			sent = true
		}
	}
	if !sent {
		sw.logger.Debug().
			Str("type", env.Type).
			Str("src", env.From).
			Msg("broadcast did not reach anyone")
	}
}

func (sw *Switch) send(ctx context.Context, env model.Envelope, tx chan<- model.Envelope, logger *zerolog.Logger) (bool, bool) {
	var sent, canceled bool
	tCh := time.NewTimer(sw.fwdTimeout)
	select {
	case <-ctx.Done():
		canceled = true
	case <-tCh.C:
		logger.Error().Msg("dead endpoint")
	case tx <- env:
		logger.Debug().Msg("envelope is forwarded")
		sent = true
	}
	tCh.Stop()
	return sent, canceled
}
