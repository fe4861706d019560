package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/devsession/internal/node"
	"github.com/danmuck/devsession/internal/protocol/session"
)

// serverFile is the serverctl config.toml key mapping.
type serverFile struct {
	ID              string        `toml:"id"`
	ListenAddr      string        `toml:"listen_addr"`
	AdvertiseURI    string        `toml:"advertise_uri"`
	AdminListenAddr string        `toml:"admin_listen_addr"`
	AdminToken      string        `toml:"admin_token,omitempty"`
	CORSOrigins     []string      `toml:"cors_origins"`
	RegistryScope   string        `toml:"registry_scope"`
	LogoutWait      string        `toml:"logout_wait"`
	Devices         []deviceEntry `toml:"devices,omitempty"`
	SessionKeys
}

// Server is a resolved serverctl configuration. Devices listed in the
// file run in the same process and log in over the server's own listener.
type Server struct {
	Node            node.ServerConfig
	AdminListenAddr string
	AdminToken      string
	CORSOrigins     []string
	RegistryScope   node.RegistryScope
	Devices         []node.DeviceSpec
	LogoutWait      time.Duration
}

func DefaultServer() Server {
	return Server{
		Node: node.ServerConfig{
			NodeID:       "server-1",
			ListenAddr:   ":7400",
			AdvertiseURI: "server://server-1",
			Session:      session.DefaultConfig(),
		},
		AdminListenAddr: ":7480",
		CORSOrigins:     []string{"http://localhost:3000"},
		RegistryScope:   node.ScopeRole,
		LogoutWait:      5 * time.Second,
	}
}

// LoadServer overlays the keys present in path onto DefaultServer.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Server{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("id") {
		cfg.Node.NodeID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("listen_addr") {
		cfg.Node.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("advertise_uri") {
		cfg.Node.AdvertiseURI = strings.TrimSpace(raw.AdvertiseURI)
	} else if meta.IsDefined("id") {
		cfg.Node.AdvertiseURI = "server://" + cfg.Node.NodeID
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
	if meta.IsDefined("registry_scope") {
		scope, err := node.ParseRegistryScope(raw.RegistryScope)
		if err != nil {
			return Server{}, fmt.Errorf("load server config: %w", err)
		}
		cfg.RegistryScope = scope
	}
	if meta.IsDefined("logout_wait") {
		wait, err := time.ParseDuration(strings.TrimSpace(raw.LogoutWait))
		if err != nil {
			return Server{}, fmt.Errorf("load server config: logout_wait: %w", err)
		}
		cfg.LogoutWait = wait
	}
	cfg.Devices = deviceSpecs(raw.Devices)
	if err := overlaySession(meta, raw.SessionKeys, &cfg.Node.Session); err != nil {
		return Server{}, fmt.Errorf("load server config: %w", err)
	}
	cfg.Node.Session = cfg.Node.Session.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return Server{}, fmt.Errorf("load server config: %w", err)
	}
	return cfg, nil
}

func (s Server) Validate() error {
	if err := s.Node.Validate(); err != nil {
		return err
	}
	if len(s.Devices) == 0 {
		return nil
	}
	if _, err := loopbackAddr(s.Node.ListenAddr); err != nil {
		return err
	}
	return s.Host().Device.Validate()
}

// Host converts the file into the node layout serverctl runs.
func (s Server) Host() node.HostConfig {
	srv := s.Node
	out := node.HostConfig{Scope: s.RegistryScope, Server: &srv}
	if len(s.Devices) == 0 {
		return out
	}
	addr, _ := loopbackAddr(s.Node.ListenAddr)
	out.Device = &node.DeviceConfig{
		NodeID:     s.Node.NodeID + "-devices",
		ServerAddr: addr,
		Devices:    s.Devices,
		Session:    s.Node.Session,
		LogoutWait: s.LogoutWait,
	}
	return out
}

// loopbackAddr turns a listen address into one a local device can dial.
func loopbackAddr(listen string) (string, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(listen))
	if err != nil {
		return "", fmt.Errorf("listen_addr %q: %w", listen, err)
	}
	if port == "" || port == "0" {
		return "", fmt.Errorf("listen_addr %q: in-process devices need a fixed port", listen)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port), nil
}

func deviceSpecs(entries []deviceEntry) []node.DeviceSpec {
	out := make([]node.DeviceSpec, 0, len(entries))
	for _, e := range entries {
		out = append(out, node.DeviceSpec{
			DevURI:   strings.TrimSpace(e.DevURI),
			DevType:  strings.TrimSpace(e.DevType),
			DevAddrs: trimAll(e.DevAddrs),
		})
	}
	return out
}
