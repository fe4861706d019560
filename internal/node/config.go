package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/devsession/internal/login"
	"github.com/danmuck/devsession/internal/protocol/session"
)

var (
	ErrInvalidScope      = errors.New("node: invalid registry scope")
	ErrListenAddrMissing = errors.New("node: listen address required")
	ErrServerAddrMissing = errors.New("node: server address required")
	ErrNoDevices         = errors.New("node: at least one device required")
	ErrInvalidDevURI     = errors.New("node: invalid device uri")
)

// RegistryScope decides whether server and device roles in one process
// share a session registry.
type RegistryScope string

const (
	ScopeRole   RegistryScope = "role"
	ScopeShared RegistryScope = "shared"
)

func ParseRegistryScope(raw string) (RegistryScope, error) {
	switch RegistryScope(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ScopeRole:
		return ScopeRole, nil
	case ScopeShared:
		return ScopeShared, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
}

type ServerConfig struct {
	NodeID     string
	ListenAddr string
	// AdvertiseURI is this server's own identifier, recorded per session.
	AdvertiseURI string
	Session      session.Config
}

func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrListenAddrMissing
	}
	return c.Session.ValidateServerTransport()
}

// DeviceSpec is one device identity an initiator logs in as.
type DeviceSpec struct {
	DevURI   string
	DevType  string
	DevAddrs []string
}

type DeviceConfig struct {
	NodeID     string
	ServerAddr string
	Devices    []DeviceSpec
	Session    session.Config
	// LogoutWait bounds how long Logout waits for every session to end.
	LogoutWait time.Duration
}

func (c DeviceConfig) Validate() error {
	if strings.TrimSpace(c.ServerAddr) == "" {
		return ErrServerAddrMissing
	}
	if len(c.Devices) == 0 {
		return ErrNoDevices
	}
	for _, d := range c.Devices {
		if !session.ValidDevURI(d.DevURI) {
			return fmt.Errorf("%w: %q", ErrInvalidDevURI, d.DevURI)
		}
	}
	return c.Session.ValidateClientTransport()
}

// HostConfig describes a process running a server, devices, or both.
type HostConfig struct {
	Scope  RegistryScope
	Server *ServerConfig
	Device *DeviceConfig
}

// registries returns the registry each role should use.
func (c HostConfig) registries() (server, device *login.Registry) {
	if c.Scope == ScopeShared {
		shared := login.NewRegistry()
		return shared, shared
	}
	return login.NewRegistry(), login.NewRegistry()
}
