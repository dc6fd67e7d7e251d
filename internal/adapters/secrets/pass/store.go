package pass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"strings"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

var (
	ErrUnavailable = errors.New("pass command unavailable")
	ErrInvalidKey  = errors.New("invalid pass entry name")
	ErrMultiline   = errors.New("secret value spans several lines")
)

const (
	notInStoreMarker = "is not in the password store"
	storeDirEnv      = "PASSWORD_STORE_DIR"
)

// invocation is one pass(1) call.
type invocation struct {
	args  []string
	stdin string
	env   []string
}

type runFunc func(ctx context.Context, inv invocation) (stdout string, stderr string, err error)

// Store keeps session credentials as single-line pass(1) entries named
// after their secret refs, e.g. bidbot/<session-id>/marketplace_token.
type Store struct {
	run      runFunc
	storeDir string
}

var _ ports.SecretStore = (*Store)(nil)

type Option func(*Store)

// WithStoreDir points pass at a password store other than ~/.password-store.
func WithStoreDir(dir string) Option {
	return func(s *Store) {
		s.storeDir = dir
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{run: runPass}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("pass put %q: %w", key, ErrMultiline)
	}

	_, stderr, err := s.call(ctx, value+"\n", "insert", "--echo", "--force", key)
	if err != nil {
		return commandError("put", key, err, stderr)
	}
	return nil
}

// Get returns the first line of the entry. Lines after it are pass
// metadata and never part of a credential.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateKey(key); err != nil {
		return "", err
	}

	stdout, stderr, err := s.call(ctx, "", "show", key)
	if err != nil {
		if strings.Contains(stderr, notInStoreMarker) {
			return "", fmt.Errorf("pass get %q: %w", key, domain.ErrSecretNotFound)
		}
		return "", commandError("get", key, err, stderr)
	}

	first, _, _ := strings.Cut(stdout, "\n")
	first = strings.TrimSuffix(first, "\r")
	if first == "" {
		return "", fmt.Errorf("pass get %q: empty entry: %w", key, domain.ErrSecretNotFound)
	}
	return first, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	_, stderr, err := s.call(ctx, "", "rm", "--force", key)
	if err != nil && !strings.Contains(stderr, notInStoreMarker) {
		return commandError("delete", key, err, stderr)
	}
	return nil
}

func (s *Store) call(ctx context.Context, stdin string, args ...string) (string, string, error) {
	inv := invocation{args: args, stdin: stdin}
	if s.storeDir != "" {
		inv.env = []string{storeDirEnv + "=" + s.storeDir}
	}
	return s.run(ctx, inv)
}

// validateKey keeps entry names relative and inside the store.
func validateKey(key string) error {
	switch {
	case key == "", strings.TrimSpace(key) != key:
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.HasPrefix(key, "/"), path.Clean(key) != key, strings.HasPrefix(key, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func runPass(ctx context.Context, inv invocation) (string, string, error) {
	bin, err := exec.LookPath("pass")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", ErrUnavailable
		}
		return "", "", fmt.Errorf("locate pass command: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin, inv.args...)
	if inv.stdin != "" {
		cmd.Stdin = strings.NewReader(inv.stdin)
	}
	if len(inv.env) > 0 {
		cmd.Env = append(os.Environ(), inv.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	return stdout.String(), strings.TrimSpace(stderr.String()), err
}

func commandError(op string, key string, err error, stderr string) error {
	if stderr == "" {
		return fmt.Errorf("pass %s %q: %w", op, key, err)
	}
	return fmt.Errorf("pass %s %q: %w: %s", op, key, err, stderr)
}
