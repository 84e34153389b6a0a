package secrets

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strings"

	"github.com/go-faster/errors"

	"songBot/internal/domain"
)

// exitItemNotFound is what security(1) returns for errSecItemNotFound.
const exitItemNotFound = 44

type commandRunner func(ctx context.Context, name string, args ...string) (stdout []byte, exitCode int, err error)

// Keychain stores generic passwords in the macOS login keychain through the
// security command line tool.
type Keychain struct {
	service string
	run     commandRunner
}

func NewKeychain(service string) (*Keychain, error) {
	if runtime.GOOS != "darwin" {
		return nil, errors.Errorf("keychain backend needs macOS, running on %s", runtime.GOOS)
	}
	if _, err := exec.LookPath("security"); err != nil {
		return nil, errors.Wrap(err, "keychain: security tool not found")
	}
	return &Keychain{service: service, run: execRunner}, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), exitErr.ExitCode(), errors.Errorf("%s: %s", name, strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		return nil, -1, err
	}
	return stdout.Bytes(), 0, nil
}

func (k *Keychain) Set(ctx context.Context, key, value string) error {
	// -U updates the item in place when it exists.
	_, _, err := k.run(ctx, "security", "add-generic-password", "-U", "-s", k.service, "-a", key, "-w", value)
	if err != nil {
		return errors.Wrap(err, "keychain: save")
	}
	return nil
}

func (k *Keychain) Get(ctx context.Context, key string) (string, bool, error) {
	out, code, err := k.run(ctx, "security", "find-generic-password", "-s", k.service, "-a", key, "-w")
	if code == exitItemNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "keychain: load")
	}
	return strings.TrimRight(string(out), "\n"), true, nil
}

func (k *Keychain) Delete(ctx context.Context, key string) error {
	_, code, err := k.run(ctx, "security", "delete-generic-password", "-s", k.service, "-a", key)
	if code == exitItemNotFound {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "keychain: delete")
	}
	return nil
}

var _ domain.SecretRepository = (*Keychain)(nil)
