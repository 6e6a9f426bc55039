package tunnel

// sshconfig.go resolves gateway defaults from an OpenSSH client config
// file (spec.md §4.B: SSHConfigFile / SSHConfigLookup), the same
// Host/HostName/User/Port/IdentityFile lookup ssh(1) itself performs,
// using github.com/kevinburke/ssh_config.

import (
	"os"
	"strconv"

	"github.com/kevinburke/ssh_config"
)

// GatewayDefaults is what an ssh_config Host block can contribute to a
// gateway spec that the caller left unset. ProxyCommand is deliberately
// not modeled here: spec.md §6 scopes the outer-proxy feature to a
// plain dial address (ssh_proxy / -x bind_host:bind_port, see
// SessionConfig.ProxyDialAddress), not to executing an arbitrary
// ProxyCommand shell command, and spec.md §1 treats ssh_config parsing
// as an external lookup whose ProxyCommand value this tool never acts
// on.
type GatewayDefaults struct {
	HostName     string
	User         string
	Port         int
	IdentityFile string
}

// LookupSSHConfig resolves alias against the given config file (or, if
// path is empty, the user's default ~/.ssh/config and /etc/ssh/ssh_config
// per ssh_config.Get's own search order). A missing file or a host with
// no matching block is not an error: the zero-value defaults mean
// "nothing to contribute."
func LookupSSHConfig(path, alias string) (GatewayDefaults, error) {
	var d GatewayDefaults

	var cfg *ssh_config.Config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return d, nil
			}
			return d, err
		}
		defer f.Close() //nolint:errcheck

		cfg, err = ssh_config.Decode(f)
		if err != nil {
			return d, err
		}
		d.HostName, err = cfg.Get(alias, "HostName")
		if err != nil {
			return d, err
		}
		d.User, err = cfg.Get(alias, "User")
		if err != nil {
			return d, err
		}
		portStr, err := cfg.Get(alias, "Port")
		if err != nil {
			return d, err
		}
		d.IdentityFile, err = cfg.Get(alias, "IdentityFile")
		if err != nil {
			return d, err
		}
		if portStr != "" {
			if p, err := strconv.Atoi(portStr); err == nil {
				d.Port = p
			}
		}
		return d, nil
	}

	d.HostName = ssh_config.Get(alias, "HostName")
	d.User = ssh_config.Get(alias, "User")
	d.IdentityFile = ssh_config.Get(alias, "IdentityFile")
	if portStr := ssh_config.Get(alias, "Port"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			d.Port = p
		}
	}
	return d, nil
}

// ApplyGatewayDefaults fills the caller's gateway fields from cfg,
// matching ssh(1) precedence. host is always the alias used to look up
// cfg (the positional gateway argument doubles as the ssh_config Host
// match key, exactly as "ssh bastion" does), so a configured HostName
// always replaces it — that substitution is the entire point of an
// ssh_config Host block. Port and User have independent explicit-flag
// inputs, so those only fall back to cfg when the caller left them
// unset.
func ApplyGatewayDefaults(host string, port int, user string, cfg GatewayDefaults) (string, int, string) {
	if cfg.HostName != "" {
		host = cfg.HostName
	}
	if port == 0 {
		port = cfg.Port
	}
	if user == "" {
		user = cfg.User
	}
	return host, port, user
}
