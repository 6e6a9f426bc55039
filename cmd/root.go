// Package cmd wires up the CLI flags and dispatches to the tunnel
// forwarder.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"sshtunnel/config"
	ncerr "sshtunnel/internal/errors"
	"sshtunnel/internal/metrics"
	"sshtunnel/internal/retry"
	"sshtunnel/tunnel"
	"sshtunnel/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X sshtunnel/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// ExitError carries the process exit code a fatal condition should
// produce (spec.md §6): 1 configuration, 2 authentication, 3 listener
// bind failure, 130 interrupt. main.go inspects it to set os.Exit.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Execute parses args and runs the tunnel forwarder until ctx is
// cancelled or a fatal error occurs.
func Execute(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sshtunnel", flag.ContinueOnError)

	opts := &config.Options{}
	config.LoadFromEnv(opts) // environment overlay; CLI flags below take precedence

	var (
		noAgent        bool
		threaded       bool
		showVersion    bool
		showHelp       bool
		dryRun         bool
		promptPassword bool
		verbosity      int
	)
	threaded = opts.ThreadedOrDefault()

	fs.StringVarP(&opts.SSHUsername, "user", "U", opts.SSHUsername, "SSH username")
	fs.IntVarP(&opts.SSHPort, "port", "p", opts.SSHPort, "Gateway SSH port (default 22)")
	fs.StringVarP(&opts.SSHPassword, "password", "P", opts.SSHPassword, "SSH password")
	fs.StringVarP(&opts.SSHHostKey, "host-key", "k", opts.SSHHostKey, "Pinned gateway host key fingerprint (enables require-specific policy)")
	fs.StringArrayVarP(&opts.SSHPkeyFiles, "keyfile", "K", nil, "Private key file (repeatable)")
	fs.StringVarP(&opts.SSHPkeyPassword, "keypass", "S", opts.SSHPkeyPassword, "Passphrase for encrypted private keys")
	fs.BoolVarP(&threaded, "threaded", "t", threaded, "One worker per accepted connection (default true)")
	fs.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (repeatable: -v=ERROR -vv=WARNING -vvv=INFO -vvvv=DEBUG)")
	fs.BoolVarP(&showVersion, "version", "V", false, "Print version and exit")
	fs.StringVarP(&opts.SSHProxy, "proxy", "x", opts.SSHProxy, "Outer proxy address (bind_host:bind_port) to dial instead of the gateway directly")
	fs.StringVarP(&opts.SSHConfigFile, "ssh-config", "c", opts.SSHConfigFile, "Path to an OpenSSH client config file for Host alias lookup")
	fs.BoolVarP(&opts.Compression, "compression", "z", opts.Compression, "Enable SSH transport compression")
	fs.BoolVarP(&noAgent, "no-agent", "n", false, "Disable SSH agent credential discovery")
	fs.StringArrayVarP(&opts.HostPkeyDirectories, "key-dir", "d", opts.HostPkeyDirectories, "Directory to scan for private keys (repeatable, default ~/.ssh)")
	fs.StringArrayVarP(&opts.LocalBindAddresses, "local", "L", nil, "Local bind address, host:port or /abs/socket.path (repeatable, pairs positionally with -R)")
	fs.StringArrayVarP(&opts.RemoteBindAddresses, "remote", "R", nil, "Remote target address, host:port (repeatable, pairs positionally with -L)")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit without connecting")
	fs.BoolVar(&promptPassword, "prompt-password", false, "Prompt for the SSH password interactively instead of passing -P on the command line")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	if err := fs.Parse(args); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("sshtunnel %s\n", version)
		return nil
	}

	if verbosity > 0 {
		opts.LoggerLevel = verbosity
	}
	if fs.Changed("no-agent") {
		allow := !noAgent
		opts.AllowAgent = &allow
	}

	opts.SSHAddressOrHost = fs.Arg(0)
	if opts.SSHAddressOrHost == "" {
		return &ExitError{Code: 1, Err: fmt.Errorf("gateway argument is required")}
	}

	logger := util.NewLogger(opts.LoggerLevel)
	opts.Logger = logger

	if promptPassword {
		pw, err := readPasswordInteractive()
		if err != nil {
			return &ExitError{Code: 1, Err: err}
		}
		opts.SSHPassword = pw
	}

	config.ResolveDeprecated(opts, logger)

	rules, err := buildRules(opts.LocalBindAddresses, opts.RemoteBindAddresses)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	sessionCfg, err := buildSessionConfig(opts, logger)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	_ = threaded // serialized-per-rule mode is not implemented; flag accepted for CLI parity with spec.md §6

	if err := tunnel.CheckRules(rules); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	if dryRun {
		return nil
	}

	coll := metrics.New()
	forwarder, err := tunnel.NewForwarder(&tunnel.ForwarderConfig{
		Session:        sessionCfg,
		Rules:          rules,
		MuteExceptions: opts.MuteExceptions,
		Logger:         logger,
		Metrics:        coll,
		Breaker:        retry.NewCircuitBreaker(retry.DefaultCircuitBreakerConfig()),
	})
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	if err := forwarder.Start(ctx); err != nil {
		return classifyStartError(err)
	}

	for _, r := range rules {
		logger.Info("forwarding %s -> %s", r.Local, r.Remote)
	}

	<-ctx.Done()

	logger.Info("shutting down")
	if err := forwarder.Stop(true); err != nil {
		logger.Warn("stop: %v", err)
	}

	return &ExitError{Code: 130, Err: ctx.Err()}
}

// classifyStartError maps a Start failure to its documented exit code
// (spec.md §7): authentication/host-key failures are exit 2, listener
// bind failures are exit 3, everything else is a configuration error.
func classifyStartError(err error) error {
	var noAuth *ncerr.NoAuthMethodsError
	var authErr *ncerr.AuthenticationError
	var hostKeyErr *ncerr.HostKeyError
	if ncerr.As(err, &noAuth) || ncerr.As(err, &authErr) || ncerr.As(err, &hostKeyErr) {
		return &ExitError{Code: 2, Err: err}
	}
	var aggErr *ncerr.AggregateListenerError
	if ncerr.As(err, &aggErr) {
		return &ExitError{Code: 3, Err: err}
	}
	return &ExitError{Code: 1, Err: err}
}

// buildRules pairs -L/-R flags positionally into forwarding rules.
func buildRules(locals, remotes []string) ([]tunnel.ForwardingRule, error) {
	if len(locals) == 0 || len(remotes) == 0 {
		return nil, fmt.Errorf("at least one -L/-R pair is required")
	}
	if len(locals) != len(remotes) {
		return nil, fmt.Errorf("-L and -R must pair up 1:1, got %d local and %d remote", len(locals), len(remotes))
	}
	rules := make([]tunnel.ForwardingRule, len(locals))
	for i := range locals {
		local, err := parseAddress(locals[i], true)
		if err != nil {
			return nil, fmt.Errorf("-L %q: %w", locals[i], err)
		}
		remote, err := parseAddress(remotes[i], false)
		if err != nil {
			return nil, fmt.Errorf("-R %q: %w", remotes[i], err)
		}
		rules[i] = tunnel.ForwardingRule{Local: local, Remote: remote}
	}
	return rules, nil
}

// parseAddress parses "host:port" via config.SplitHostPort. A local
// bind may also be an absolute UNIX socket path, or leave the port as
// 0 to let the OS assign one (spec.md §4.A); a remote target's port
// must be strictly positive (spec.md §3).
func parseAddress(spec string, isLocal bool) (tunnel.Address, error) {
	if isLocal && strings.HasPrefix(spec, "/") {
		return tunnel.Address{Path: spec}, nil
	}
	host, port, err := config.SplitHostPort(spec)
	if err != nil {
		return tunnel.Address{}, err
	}
	if !isLocal && port == 0 {
		return tunnel.Address{}, fmt.Errorf("remote target port must be > 0")
	}
	if host == "" {
		host = config.DefaultLocalHost
	}
	return tunnel.Address{Host: host, Port: port}, nil
}

// buildSessionConfig translates resolved CLI options into a
// tunnel.SessionConfig, applying ssh_config Host lookups (§4.B) before
// the explicit flags, so an explicit flag always wins over a
// looked-up default.
func buildSessionConfig(opts *config.Options, logger *util.Logger) (*tunnel.SessionConfig, error) {
	gwUser, gwHost, gwPort, err := config.ParseGatewaySpec(opts.SSHAddressOrHost)
	if err != nil {
		return nil, err
	}
	user := opts.SSHUsername
	if user == "" {
		user = gwUser
	}
	if opts.SSHPort != 0 {
		gwPort = opts.SSHPort
	} else if _, specPort, _ := config.SplitHostPort(opts.SSHAddressOrHost[strings.IndexByte(opts.SSHAddressOrHost, '@')+1:]); specPort == 0 {
		gwPort = 0 // no explicit port: an ssh_config Port may still apply below
	}

	keyfiles := opts.SSHPkeyFiles
	if defaults, err := tunnel.LookupSSHConfig(opts.SSHConfigFile, gwHost); err == nil {
		gwHost, gwPort, user = tunnel.ApplyGatewayDefaults(gwHost, gwPort, user, defaults)
		if defaults.IdentityFile != "" {
			keyfiles = append(keyfiles, defaults.IdentityFile)
		}
	}
	if gwPort == 0 {
		gwPort = config.DefaultSSHPort
	}

	policy := tunnel.RequireKnown
	if opts.SSHHostKey != "" {
		policy = tunnel.RequireSpecific
	}

	authCfg := &tunnel.AuthConfig{
		Password:            opts.SSHPassword,
		PrivateKeyPEM:       opts.SSHPkey,
		PrivateKeyFiles:     keyfiles,
		KeyPassphrase:       opts.SSHPkeyPassword,
		AllowAgent:          opts.AllowAgentOrDefault(),
		HostPkeyDirectories: opts.HostPkeyDirectoriesOrDefault(),
		Logger:              logger,
	}

	keepalive := time.Duration(opts.KeepaliveOrDefault() * float64(time.Second))

	return &tunnel.SessionConfig{
		User:              user,
		Host:              gwHost,
		Port:              gwPort,
		Auth:              authCfg,
		HostKeyPolicy:     policy,
		PinnedFingerprint: opts.SSHHostKey,
		KeepaliveInterval: keepalive,
		ProxyDialAddress:  opts.SSHProxy,
	}, nil
}

// readPasswordInteractive prompts on the controlling terminal with
// echo disabled, matching the teacher's PromptPass behavior.
func readPasswordInteractive() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--prompt-password requires an interactive terminal")
	}
	fmt.Fprint(os.Stderr, "SSH password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `sshtunnel %s - SSH port forwarding tunnel engine

Usage:
  sshtunnel [options] -L local:port -R remote:port <gateway>

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  sshtunnel -U admin -L 127.0.0.1:5432 -R 10.0.0.5:5432 bastion.example.com
  sshtunnel -K ~/.ssh/id_ed25519 -L :8080 -L :8443 -R internal:80 -R internal:443 bastion
  sshtunnel -k SHA256:xxxxx -L /tmp/app.sock -R localhost:9000 admin@bastion:2222
`)
}
