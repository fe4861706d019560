package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/devsession/internal/node"
	"github.com/danmuck/devsession/internal/protocol/session"
)

// deviceFile is the devicectl config.toml key mapping.
type deviceFile struct {
	ID              string        `toml:"id"`
	ServerAddr      string        `toml:"server_addr"`
	AdminListenAddr string        `toml:"admin_listen_addr"`
	AdminToken      string        `toml:"admin_token,omitempty"`
	CORSOrigins     []string      `toml:"cors_origins"`
	LogoutWait      string        `toml:"logout_wait"`
	Devices         []deviceEntry `toml:"devices"`
	SessionKeys
}

type Device struct {
	Node            node.DeviceConfig
	AdminListenAddr string
	AdminToken      string
	CORSOrigins     []string
}

func DefaultDevice() Device {
	return Device{
		Node: node.DeviceConfig{
			NodeID:     "device-1",
			ServerAddr: "127.0.0.1:7400",
			Session:    session.DefaultConfig(),
			LogoutWait: 5 * time.Second,
		},
		CORSOrigins: []string{"http://localhost:3000"},
	}
}

// LoadDevice overlays the keys present in path onto DefaultDevice.
func LoadDevice(path string) (Device, error) {
	cfg := DefaultDevice()

	var raw deviceFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Device{}, fmt.Errorf("load device config: %w", err)
	}

	if meta.IsDefined("id") {
		cfg.Node.NodeID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("server_addr") {
		cfg.Node.ServerAddr = strings.TrimSpace(raw.ServerAddr)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = trimAll(raw.CORSOrigins)
	}
	if meta.IsDefined("logout_wait") {
		wait, err := time.ParseDuration(strings.TrimSpace(raw.LogoutWait))
		if err != nil {
			return Device{}, fmt.Errorf("load device config: logout_wait: %w", err)
		}
		cfg.Node.LogoutWait = wait
	}
	cfg.Node.Devices = deviceSpecs(raw.Devices)
	if err := overlaySession(meta, raw.SessionKeys, &cfg.Node.Session); err != nil {
		return Device{}, fmt.Errorf("load device config: %w", err)
	}
	cfg.Node.Session = cfg.Node.Session.WithDefaults()

	if err := cfg.Node.Validate(); err != nil {
		return Device{}, fmt.Errorf("load device config: %w", err)
	}
	return cfg, nil
}

func (d Device) Host() node.HostConfig {
	dev := d.Node
	return node.HostConfig{Scope: node.ScopeRole, Device: &dev}
}
