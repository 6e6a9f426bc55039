package config

import (
	"testing"

	"sshtunnel/util"
)

func TestResolveDeprecated_AppliesWhenCurrentUnset(t *testing.T) {
	logger := util.NewLogger(0)
	o := &Options{SSHAddress: "bastion.example.com"}
	ResolveDeprecated(o, logger)
	if o.SSHAddressOrHost != "bastion.example.com" {
		t.Fatalf("SSHAddressOrHost = %q, want alias value", o.SSHAddressOrHost)
	}
}

func TestResolveDeprecated_CurrentNameWins(t *testing.T) {
	logger := util.NewLogger(0)
	o := &Options{SSHAddress: "old-host", SSHAddressOrHost: "new-host"}
	ResolveDeprecated(o, logger)
	if o.SSHAddressOrHost != "new-host" {
		t.Fatalf("current name should win, got %q", o.SSHAddressOrHost)
	}
}

func TestResolveDeprecated_MuteExceptionsInverted(t *testing.T) {
	logger := util.NewLogger(0)
	raise := true
	o := &Options{RaiseExceptionIfAnyForwarderHaveAProblem: &raise}
	ResolveDeprecated(o, logger)
	if o.MuteExceptions {
		t.Fatal("raise=true should invert to mute_exceptions=false")
	}

	raise = false
	o2 := &Options{RaiseExceptionIfAnyForwarderHaveAProblem: &raise}
	ResolveDeprecated(o2, logger)
	if !o2.MuteExceptions {
		t.Fatal("raise=false should invert to mute_exceptions=true")
	}
}

func TestOptions_Defaults(t *testing.T) {
	o := &Options{}
	if !o.AllowAgentOrDefault() {
		t.Error("AllowAgent should default to true")
	}
	if !o.ThreadedOrDefault() {
		t.Error("Threaded should default to true")
	}
	if o.KeepaliveOrDefault() != DefaultKeepAliveInterval {
		t.Errorf("keepalive default = %v, want %v", o.KeepaliveOrDefault(), DefaultKeepAliveInterval)
	}
	dirs := o.HostPkeyDirectoriesOrDefault()
	if len(dirs) != 1 || dirs[0] != DefaultHostPkeyDirectory {
		t.Errorf("dirs default = %v", dirs)
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"missing gateway", Options{LocalBindAddresses: []string{"x"}, RemoteBindAddresses: []string{"y"}}, true},
		{"missing local", Options{SSHAddressOrHost: "h", RemoteBindAddresses: []string{"y"}}, true},
		{"missing remote", Options{SSHAddressOrHost: "h", LocalBindAddresses: []string{"x"}}, true},
		{"mismatched count", Options{SSHAddressOrHost: "h", LocalBindAddresses: []string{"x", "y"}, RemoteBindAddresses: []string{"z"}}, true},
		{"ok", Options{SSHAddressOrHost: "h", LocalBindAddresses: []string{"x"}, RemoteBindAddresses: []string{"y"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		spec     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"example.com:22", "example.com", 22, false},
		{"[::1]:2222", "::1", 2222, false},
		{"bare-host", "bare-host", 0, false},
		{"", "", 0, true},
	}
	for _, tt := range tests {
		host, port, err := SplitHostPort(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("SplitHostPort(%q) err=%v, wantErr=%v", tt.spec, err, tt.wantErr)
			continue
		}
		if err == nil && (host != tt.wantHost || port != tt.wantPort) {
			t.Errorf("SplitHostPort(%q) = (%q,%d), want (%q,%d)", tt.spec, host, port, tt.wantHost, tt.wantPort)
		}
	}
}

func TestParseGatewaySpec(t *testing.T) {
	user, host, port, err := ParseGatewaySpec("admin@bastion.example.com:2222")
	if err != nil {
		t.Fatal(err)
	}
	if user != "admin" || host != "bastion.example.com" || port != 2222 {
		t.Errorf("got (%q,%q,%d)", user, host, port)
	}

	_, host, port, err = ParseGatewaySpec("gateway.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if host != "gateway.example.com" || port != DefaultSSHPort {
		t.Errorf("default port not applied: host=%q port=%d", host, port)
	}

	if _, _, _, err := ParseGatewaySpec("@"); err == nil {
		t.Fatal("expected error for empty host")
	}
}
