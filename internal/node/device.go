package node

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/devsession/internal/login"
	"github.com/danmuck/devsession/internal/task"
	"github.com/rs/zerolog/log"
)

const defaultLogoutWait = 5 * time.Second

// Device logs one or more device identities in to a server and keeps them
// logged in until Logout.
type Device struct {
	*Runtime
	cfg DeviceConfig

	mu      sync.Mutex
	started bool
	tasks   map[string]task.ID
	inits   map[string]*login.Initiator
	changed chan struct{}
}

func NewDevice(cfg DeviceConfig, reg *login.Registry) *Device {
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = "device"
	}
	if cfg.LogoutWait <= 0 {
		cfg.LogoutWait = defaultLogoutWait
	}
	d := &Device{
		Runtime: newRuntime(cfg.NodeID, login.RoleInitiator, cfg.Session, reg, true),
		cfg:     cfg,
		tasks:   make(map[string]task.ID),
		inits:   make(map[string]*login.Initiator),
		changed: make(chan struct{}, 1),
	}
	d.onDestroy = d.taskEnded
	return d
}

// Start spawns one initiator per configured device. Calling it again is a
// no-op.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	d.started = true
	for _, spec := range d.cfg.Devices {
		cfg := login.InitiatorConfig{
			DevURI:    spec.DevURI,
			DevType:   spec.DevType,
			DevAddrs:  spec.DevAddrs,
			ServerURI: d.cfg.ServerAddr,
		}
		var in *login.Initiator
		id, err := d.sched.SpawnFunc("", func(id task.ID) task.Task[login.Event] {
			d.bind(id, d.cfg.ServerAddr)
			in = login.NewInitiator(cfg, d.deps(id))
			return in
		})
		if err != nil {
			return err
		}
		d.tasks[spec.DevURI] = id
		d.inits[spec.DevURI] = in
		log.Info().Str("node", d.id).Str("dev_uri", spec.DevURI).Uint64("task", uint64(id)).Msg("node.Device initiator started")
	}
	return nil
}

// Run starts the initiators and drives them until ctx ends.
func (d *Device) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	d.run(ctx)
	return nil
}

// Logout asks every logged in initiator to log out and waits until all of
// them ended or the wait elapses. Initiators still waiting for a login have
// nothing to log out of and are destroyed right away.
func (d *Device) Logout(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LogoutWait)
	defer cancel()
	for _, in := range d.liveInitiators() {
		if in.loggedIn {
			d.deliver(in.id, login.StartLogout())
			continue
		}
		if d.sched.Destroy(in.id) {
			log.Debug().Str("node", d.id).Uint64("task", uint64(in.id)).Msg("node.Device initiator not logged in, destroyed")
		}
	}
	for {
		if len(d.liveTasks()) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			log.Warn().Str("node", d.id).Int("remaining", len(d.liveTasks())).Msg("node.Device logout wait elapsed")
			return ctx.Err()
		case <-d.changed:
		}
	}
}

// LoggedIn reports whether the initiator for devURI is in service.
func (d *Device) LoggedIn(devURI string) bool {
	d.mu.Lock()
	in, ok := d.inits[devURI]
	d.mu.Unlock()
	return ok && in.LoggedIn()
}

type initiatorState struct {
	id       task.ID
	loggedIn bool
}

func (d *Device) liveInitiators() []initiatorState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]initiatorState, 0, len(d.tasks))
	for uri, id := range d.tasks {
		if d.sched.Has(id) {
			out = append(out, initiatorState{id: id, loggedIn: d.inits[uri].LoggedIn()})
		}
	}
	return out
}

func (d *Device) liveTasks() []task.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]task.ID, 0, len(d.tasks))
	for _, id := range d.tasks {
		if d.sched.Has(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (d *Device) taskEnded(task.ID) {
	select {
	case d.changed <- struct{}{}:
	default:
	}
}
