package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders a config file for kind populated with the defaults.
func Template(kind Kind) (string, error) {
	var doc any
	switch kind {
	case KindServer:
		doc = serverTemplate()
	case KindDevice:
		doc = deviceTemplate()
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return buf.String(), nil
}

func WriteTemplate(path string, kind Kind, overwrite bool) error {
	body, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(body), 0o600)
}

// Validate loads path as kind and reports the first problem.
func Validate(path string, kind Kind) error {
	switch kind {
	case KindServer:
		_, err := LoadServer(path)
		return err
	case KindDevice:
		_, err := LoadDevice(path)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func serverTemplate() serverFile {
	d := DefaultServer()
	return serverFile{
		ID:              d.Node.NodeID,
		ListenAddr:      d.Node.ListenAddr,
		AdvertiseURI:    d.Node.AdvertiseURI,
		AdminListenAddr: d.AdminListenAddr,
		CORSOrigins:     d.CORSOrigins,
		RegistryScope:   string(d.RegistryScope),
		LogoutWait:      d.LogoutWait.String(),
		SessionKeys:     sessionKeysFrom(d.Node.Session),
	}
}

func deviceTemplate() deviceFile {
	d := DefaultDevice()
	return deviceFile{
		ID:              d.Node.NodeID,
		ServerAddr:      d.Node.ServerAddr,
		AdminListenAddr: d.AdminListenAddr,
		CORSOrigins:     d.CORSOrigins,
		LogoutWait:      d.Node.LogoutWait.String(),
		Devices: []deviceEntry{{
			DevURI:   "dev://sensor-1",
			DevType:  "sensor",
			DevAddrs: []string{"10.0.0.21:4100"},
		}},
		SessionKeys: sessionKeysFrom(d.Node.Session),
	}
}
