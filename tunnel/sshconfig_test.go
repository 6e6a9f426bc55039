package tunnel

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSSHConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyGatewayDefaults_HostNameOverridesAlias(t *testing.T) {
	defaults := GatewayDefaults{HostName: "10.0.0.5", User: "alice", Port: 2222}

	host, port, user := ApplyGatewayDefaults("bastion", 0, "", defaults)
	if host != "10.0.0.5" {
		t.Errorf("host = %q, want HostName to replace the alias", host)
	}
	if port != 2222 {
		t.Errorf("port = %d, want 2222", port)
	}
	if user != "alice" {
		t.Errorf("user = %q, want alice", user)
	}
}

func TestApplyGatewayDefaults_ExplicitFlagsWin(t *testing.T) {
	defaults := GatewayDefaults{HostName: "10.0.0.5", User: "alice", Port: 2222}

	host, port, user := ApplyGatewayDefaults("bastion", 22, "bob", defaults)
	if host != "10.0.0.5" {
		t.Errorf("host = %q, want HostName to still replace the alias", host)
	}
	if port != 22 {
		t.Errorf("port = %d, want the explicit 22 to win", port)
	}
	if user != "bob" {
		t.Errorf("user = %q, want the explicit bob to win", user)
	}
}

func TestApplyGatewayDefaults_NoConfigBlock(t *testing.T) {
	host, port, user := ApplyGatewayDefaults("bastion.example.com", 22, "bob", GatewayDefaults{})
	if host != "bastion.example.com" || port != 22 || user != "bob" {
		t.Errorf("got (%q, %d, %q), want the inputs unchanged", host, port, user)
	}
}

func TestLookupSSHConfig_ResolvesHostName(t *testing.T) {
	path := writeSSHConfig(t, "Host bastion\n  HostName 10.0.0.5\n  User alice\n  Port 2222\n")

	defaults, err := LookupSSHConfig(path, "bastion")
	if err != nil {
		t.Fatal(err)
	}
	if defaults.HostName != "10.0.0.5" || defaults.User != "alice" || defaults.Port != 2222 {
		t.Errorf("got %+v", defaults)
	}

	host, port, user := ApplyGatewayDefaults("bastion", 0, "", defaults)
	if host != "10.0.0.5" || port != 2222 || user != "alice" {
		t.Errorf("resolved (%q, %d, %q), want (10.0.0.5, 2222, alice)", host, port, user)
	}
}

func TestLookupSSHConfig_NoMatchingBlock(t *testing.T) {
	path := writeSSHConfig(t, "Host other\n  HostName 10.0.0.9\n")

	defaults, err := LookupSSHConfig(path, "bastion")
	if err != nil {
		t.Fatal(err)
	}
	if defaults.HostName != "" {
		t.Errorf("expected no HostName for a non-matching alias, got %q", defaults.HostName)
	}
}
