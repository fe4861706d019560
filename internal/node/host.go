package node

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// Host runs a server, a device set, or both in one process.
type Host struct {
	Scope  RegistryScope
	Server *Server
	Device *Device
}

func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Server == nil && cfg.Device == nil {
		return nil, errors.New("node: host needs a server or a device")
	}
	scope, err := ParseRegistryScope(string(cfg.Scope))
	if err != nil {
		return nil, err
	}
	cfg.Scope = scope
	serverReg, deviceReg := cfg.registries()

	h := &Host{Scope: scope}
	if cfg.Server != nil {
		if err := cfg.Server.Validate(); err != nil {
			return nil, err
		}
		h.Server = NewServer(*cfg.Server, serverReg)
	}
	if cfg.Device != nil {
		if err := cfg.Device.Validate(); err != nil {
			return nil, err
		}
		h.Device = NewDevice(*cfg.Device, deviceReg)
	}
	return h, nil
}

// Nodes lists the running roles for the admin surface.
func (h *Host) Nodes() []Node {
	var out []Node
	if h.Server != nil {
		out = append(out, h.Server)
	}
	if h.Device != nil {
		out = append(out, h.Device)
	}
	return out
}

// Run starts every role and returns when ctx ends. Devices log out first,
// bounded by their logout wait, before the roles shut down.
func (h *Host) Run(ctx context.Context) error {
	if h.Server != nil {
		if _, err := h.Server.Listen(); err != nil {
			return err
		}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	launch := func(run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(runCtx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	if h.Server != nil {
		launch(h.Server.Run)
	}
	if h.Device != nil {
		launch(h.Device.Run)
	}

	<-ctx.Done()
	if h.Device != nil {
		if err := h.Device.Logout(context.Background()); err != nil {
			log.Warn().Err(err).Msg("node.Host device logout incomplete")
		}
	}
	cancel()
	wg.Wait()
	return errors.Join(errs...)
}
