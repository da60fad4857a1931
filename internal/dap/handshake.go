package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/go-dap"

	"github.com/ctagard/debug-bridge/internal/config"
	bridgeerrors "github.com/ctagard/debug-bridge/internal/errors"
	"github.com/ctagard/debug-bridge/pkg/types"
)

// attachArguments is the debugpy attach configuration
type attachArguments struct {
	Name         string               `json:"name"`
	Type         string               `json:"type"`
	Request      string               `json:"request"`
	Connect      attachTarget         `json:"connect"`
	PathMappings []config.PathMapping `json:"pathMappings,omitempty"`
}

type attachTarget struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func initializeArguments() dap.InitializeRequestArguments {
	return dap.InitializeRequestArguments{
		ClientID:                     "debug-bridge",
		ClientName:                   "Debug Bridge",
		AdapterID:                    "python",
		Locale:                       "en-US",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		PathFormat:                   "path",
		SupportsVariableType:         true,
		SupportsVariablePaging:       true,
		SupportsRunInTerminalRequest: false,
	}
}

// handshake runs initialize, attach and configurationDone in that order.
//
// debugpy sends the initialized event after receiving attach but holds the
// attach response until configurationDone. An attach response that arrives
// first, or within the grace window after initialized, is checked before
// configurationDone is sent, so a rejected attach never gets that far.
func (sm *SessionManager) handshake(ctx context.Context, ch *Channel, req types.ConnectRequest) (dap.Capabilities, error) {
	var caps dap.Capabilities

	resp, err := ch.Start("initialize", initializeArguments()).WaitTimeout(ctx, sm.cfg.HandshakeTimeout)
	if err != nil {
		return caps, bridgeerrors.HandshakeFailed("initialize", err)
	}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &caps); err != nil {
			return caps, bridgeerrors.HandshakeFailed("initialize", fmt.Errorf("invalid capabilities: %w", err))
		}
	}

	attach := ch.Start("attach", attachArguments{
		Name:         "Python Attach",
		Type:         "python",
		Request:      "attach",
		Connect:      attachTarget{Host: req.Host, Port: req.Port},
		PathMappings: sm.cfg.PathMappings,
	})

	deferred := false
	select {
	case <-attach.Done():
		if _, err := attach.Wait(ctx); err != nil {
			return caps, bridgeerrors.HandshakeFailed("attach", err)
		}
		sm.awaitInitialized(ctx, ch)

	case <-ch.Initialized():
		grace := time.NewTimer(sm.cfg.AttachGrace)
		defer grace.Stop()

		select {
		case <-attach.Done():
			if _, err := attach.Wait(ctx); err != nil {
				return caps, bridgeerrors.HandshakeFailed("attach", err)
			}
		case <-grace.C:
			deferred = true
			sm.logger.Debug().Msg("attach response deferred until configurationDone")
		case <-ctx.Done():
			_, err := attach.Wait(ctx)
			return caps, bridgeerrors.HandshakeFailed("attach", err)
		}

	case <-ctx.Done():
		_, err := attach.Wait(ctx)
		return caps, bridgeerrors.HandshakeFailed("attach", err)
	}

	if _, err := ch.Start("configurationDone", nil).WaitTimeout(ctx, sm.cfg.HandshakeTimeout); err != nil {
		return caps, bridgeerrors.HandshakeFailed("configurationDone", err)
	}

	if deferred {
		if _, err := attach.WaitTimeout(ctx, sm.cfg.HandshakeTimeout); err != nil {
			return caps, bridgeerrors.HandshakeFailed("attach", err)
		}
	}

	return caps, nil
}

// awaitInitialized gives an adapter that answered attach first a short window
// to send initialized before configurationDone goes out.
func (sm *SessionManager) awaitInitialized(ctx context.Context, ch *Channel) {
	timer := time.NewTimer(sm.cfg.AttachGrace)
	defer timer.Stop()

	select {
	case <-ch.Initialized():
	case <-timer.C:
		sm.logger.Debug().Msg("no initialized event before configurationDone")
	case <-ctx.Done():
	}
}
