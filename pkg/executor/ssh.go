package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/newtron-network/rosguard/pkg/util"
)

// Dial retry defaults. Only connection establishment is retried; a command
// that reached the device is never resent.
const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultDialMaxElapsed = 30 * time.Second
)

// SSHConfig describes how to reach one device.
type SSHConfig struct {
	Host     string
	Port     int // 0 means 22
	User     string
	Password string
	KeyFile  string

	// KnownHostsFile enables host key verification. When empty, host keys are
	// not checked.
	KnownHostsFile string

	DialTimeout    time.Duration
	DialMaxElapsed time.Duration
}

func (c SSHConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SSH executes each command in its own session over a shared, lazily dialed
// SSH connection. A dropped connection is redialed on the next command.
type SSH struct {
	cfg SSHConfig

	mu     sync.Mutex
	client *ssh.Client

	// dial is replaced in tests.
	dial func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

// NewSSH creates an executor for cfg. No connection is made until the first
// Execute.
func NewSSH(cfg SSHConfig) *SSH {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.DialMaxElapsed == 0 {
		cfg.DialMaxElapsed = DefaultDialMaxElapsed
	}
	return &SSH{cfg: cfg, dial: ssh.Dial}
}

// Execute runs command and returns its combined output. Transport failures
// are *ConnectionError or *AuthError; RouterOS error output or a non-zero
// exit status is a *CommandError.
func (s *SSH) Execute(ctx context.Context, command string) (string, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return "", err
	}

	session, err := client.NewSession()
	if err != nil {
		s.reset(client)
		return "", &ConnectionError{Host: s.cfg.Host, Err: fmt.Errorf("opening session: %w", err)}
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- result{out, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		session.Close()
		return "", &ConnectionError{Host: s.cfg.Host, Err: ctx.Err()}
	}

	output := string(r.out)
	if r.err != nil {
		var exitErr *ssh.ExitError
		if errors.As(r.err, &exitErr) {
			return output, &CommandError{Command: command, Output: output, Err: r.err}
		}
		s.reset(client)
		return output, &ConnectionError{Host: s.cfg.Host, Err: r.err}
	}
	if line := FailureLine(output); line != "" {
		return output, &CommandError{Command: command, Output: output}
	}
	return output, nil
}

// Close drops the SSH connection if one is open.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *SSH) reset(client *ssh.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == client {
		s.client.Close()
		s.client = nil
	}
}

func (s *SSH) connect(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.cfg.DialMaxElapsed

	var client *ssh.Client
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		c, err := s.dial("tcp", s.cfg.addr(), config)
		if err != nil {
			if isAuthFailure(err) {
				return backoff.Permanent(&AuthError{Host: s.cfg.Host, User: s.cfg.User, Err: err})
			}
			util.WithDevice(s.cfg.Host).Debugf("SSH dial attempt %d failed: %v", attempt, err)
			return err
		}
		client = c
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, &ConnectionError{Host: s.cfg.Host, Err: fmt.Errorf("SSH dial %s: %w", s.cfg.addr(), err)}
	}

	s.client = client
	return client, nil
}

func (s *SSH) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if s.cfg.KeyFile != "" {
		key, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, &AuthError{Host: s.cfg.Host, User: s.cfg.User, Err: fmt.Errorf("reading key file: %w", err)}
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, &AuthError{Host: s.cfg.Host, User: s.cfg.User, Err: fmt.Errorf("parsing key file: %w", err)}
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, &AuthError{Host: s.cfg.Host, User: s.cfg.User, Err: errors.New("no password or key configured")}
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if s.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, &ConnectionError{Host: s.cfg.Host, Err: fmt.Errorf("loading known hosts: %w", err)}
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         s.cfg.DialTimeout,
	}, nil
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

// SSHResolver dials devices from a fixed profile map, reusing one executor
// per device.
type SSHResolver struct {
	profiles map[string]SSHConfig

	mu        sync.Mutex
	executors map[string]*SSH
}

// NewSSHResolver creates a resolver over profiles keyed by device ID.
func NewSSHResolver(profiles map[string]SSHConfig) *SSHResolver {
	return &SSHResolver{
		profiles:  profiles,
		executors: make(map[string]*SSH),
	}
}

// ForDevice implements Resolver.
func (r *SSHResolver) ForDevice(_ context.Context, deviceID string) (Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.executors[deviceID]; ok {
		return e, nil
	}
	cfg, ok := r.profiles[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	e := NewSSH(cfg)
	r.executors[deviceID] = e
	return e, nil
}

// Close closes every connection the resolver opened.
func (r *SSHResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, e := range r.executors {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
