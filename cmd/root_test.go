package cmd

import (
	"context"
	"errors"
	"testing"
)

func TestExecute_Version(t *testing.T) {
	if err := Execute(context.Background(), []string{"--version"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {}} {
		name := "no-args"
		if len(args) > 0 {
			name = args[0]
		}
		t.Run(name, func(t *testing.T) {
			if err := Execute(context.Background(), args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestExecute_DryRun(t *testing.T) {
	err := Execute(context.Background(), []string{
		"-L", "127.0.0.1:8080", "-R", "internal:80", "--dry-run", "admin@bastion.example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecute_DryRunMissingRule(t *testing.T) {
	err := Execute(context.Background(), []string{"--dry-run", "bastion.example.com"})
	if err == nil {
		t.Fatal("expected error for missing -L/-R pair")
	}
	assertExitCode(t, err, 1)
}

func TestExecute_DryRunUnpairedRules(t *testing.T) {
	err := Execute(context.Background(), []string{
		"-L", "127.0.0.1:8080", "-L", "127.0.0.1:8081", "-R", "internal:80",
		"--dry-run", "bastion.example.com",
	})
	if err == nil {
		t.Fatal("expected error for unpaired -L/-R")
	}
	assertExitCode(t, err, 1)
}

func TestExecute_DryRunBadRemotePort(t *testing.T) {
	err := Execute(context.Background(), []string{
		"-L", "127.0.0.1:8080", "-R", "internal:0", "--dry-run", "bastion.example.com",
	})
	if err == nil {
		t.Fatal("expected error for zero remote port")
	}
	assertExitCode(t, err, 1)
}

func TestExecute_MissingGateway(t *testing.T) {
	err := Execute(context.Background(), []string{
		"-L", "127.0.0.1:8080", "-R", "internal:80", "--dry-run",
	})
	if err == nil {
		t.Fatal("expected error for missing gateway argument")
	}
}

func TestExecute_InvalidFlags(t *testing.T) {
	err := Execute(context.Background(), []string{"--nonexistent-flag"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestExecute_SocketLocalBind(t *testing.T) {
	err := Execute(context.Background(), []string{
		"-L", "/tmp/sshtunnel-test.sock", "-R", "internal:9000", "--dry-run", "bastion.example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error for absolute socket local bind: %v", err)
	}
}

func assertExitCode(t *testing.T, err error, want int) {
	t.Helper()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error is not an *ExitError: %v", err)
	}
	if exitErr.Code != want {
		t.Fatalf("exit code = %d, want %d", exitErr.Code, want)
	}
}
