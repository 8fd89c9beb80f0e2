package models

import (
	"net"
	"strconv"
)

// DefaultSSHPort is used when neither the settings nor ssh_config name a port.
const DefaultSSHPort = 22

// RemoteConfig holds the SSH server a remote backup is written to.
type RemoteConfig struct {
	Host    string
	User    string
	KeyFile string // optional
	Port    int    // 0 means the ssh_config / default port
	Sudo    bool   // run rsync and removals with sudo on the server
}

// SSHConfigLookup returns the ssh_config value of key for a host alias, or "".
type SSHConfigLookup func(alias, key string) string

// Address returns the host:port to dial. Host aliases and ports are resolved
// through lookup, which may be nil; an explicit Port wins over ssh_config.
func (c RemoteConfig) Address(lookup SSHConfigLookup) string {
	if lookup == nil {
		lookup = func(string, string) string { return "" }
	}

	host := lookup(c.Host, "HostName")
	if host == "" {
		host = c.Host
	}

	port := c.Port
	if port == 0 {
		if p, err := strconv.Atoi(lookup(c.Host, "Port")); err == nil && p > 0 {
			port = p
		} else {
			port = DefaultSSHPort
		}
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}
