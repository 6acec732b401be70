package executor

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

type commandHandler func(command string) (output string, status uint32)

// startTestServer runs an in-process SSH server that answers exec requests
// with handler. It accepts user "admin" with password "secret".
func startTestServer(t *testing.T, handler commandHandler) (string, int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "admin" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveTestConn(nc, config, handler)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func serveTestConn(nc net.Conn, config *ssh.ServerConfig, handler commandHandler) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					return
				}
				req.Reply(true, nil)
				out, status := handler(payload.Command)
				ch.Write([]byte(out))
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func routerHandler(command string) (string, uint32) {
	switch command {
	case "/system identity print":
		return "  name: core-rtr1\r\n", 0
	case "/ip address add address=10.0.0.1/24 interface=ether2":
		return "failure: already have such address\r\n", 0
	case "/crash":
		return "segfault\n", 1
	}
	return "bad command name " + command + " (line 1 column 1)\r\n", 0
}

func TestSSH_Execute(t *testing.T) {
	host, port := startTestServer(t, routerHandler)
	e := NewSSH(SSHConfig{Host: host, Port: port, User: "admin", Password: "secret"})
	defer e.Close()
	ctx := context.Background()

	out, err := e.Execute(ctx, "/system identity print")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out != "  name: core-rtr1\r\n" {
		t.Errorf("Execute() = %q", out)
	}

	// Second command reuses the connection.
	if _, err := e.Execute(ctx, "/system identity print"); err != nil {
		t.Fatalf("second Execute() error: %v", err)
	}

	t.Run("routeros failure output", func(t *testing.T) {
		out, err := e.Execute(ctx, "/ip address add address=10.0.0.1/24 interface=ether2")
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("error = %v, want *CommandError", err)
		}
		if out == "" || cmdErr.Output != out {
			t.Errorf("CommandError.Output = %q, output = %q", cmdErr.Output, out)
		}
	})

	t.Run("non-zero exit status", func(t *testing.T) {
		_, err := e.Execute(ctx, "/crash")
		if !errors.Is(err, ErrCommand) {
			t.Errorf("error = %v, want ErrCommand", err)
		}
		if errors.Is(err, ErrConnection) {
			t.Error("exit status must not be reported as a connection error")
		}
	})
}

func TestSSH_AuthFailureIsNotRetried(t *testing.T) {
	host, port := startTestServer(t, routerHandler)

	attempts := 0
	e := NewSSH(SSHConfig{Host: host, Port: port, User: "admin", Password: "wrong", DialMaxElapsed: 5 * time.Second})
	e.dial = func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
		attempts++
		return ssh.Dial(network, addr, config)
	}

	_, err := e.Execute(context.Background(), "/system identity print")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
	if attempts != 1 {
		t.Errorf("dial attempts = %d, want 1", attempts)
	}
}

func TestSSH_UnreachableIsConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	e := NewSSH(SSHConfig{
		Host:           "127.0.0.1",
		Port:           port,
		User:           "admin",
		Password:       "secret",
		DialTimeout:    time.Second,
		DialMaxElapsed: 100 * time.Millisecond,
	})
	_, err = e.Execute(context.Background(), "/system identity print")
	if !errors.Is(err, ErrConnection) {
		t.Errorf("error = %v, want ErrConnection", err)
	}
}

func TestSSH_NoCredentials(t *testing.T) {
	e := NewSSH(SSHConfig{Host: "127.0.0.1", User: "admin"})
	_, err := e.Execute(context.Background(), "/system identity print")
	if !errors.Is(err, ErrAuth) {
		t.Errorf("error = %v, want ErrAuth", err)
	}
}

func TestSSHConfig_Addr(t *testing.T) {
	if got := (SSHConfig{Host: "10.0.0.1"}).addr(); got != "10.0.0.1:22" {
		t.Errorf("default addr = %q", got)
	}
	if got := (SSHConfig{Host: "fe80::1", Port: 2222}).addr(); got != "[fe80::1]:"+strconv.Itoa(2222) {
		t.Errorf("ipv6 addr = %q", got)
	}
}

func TestSSHResolver(t *testing.T) {
	r := NewSSHResolver(map[string]SSHConfig{
		"core-rtr1": {Host: "10.0.0.1", User: "admin", Password: "x"},
	})
	defer r.Close()

	a, err := r.ForDevice(context.Background(), "core-rtr1")
	if err != nil {
		t.Fatalf("ForDevice() error: %v", err)
	}
	b, _ := r.ForDevice(context.Background(), "core-rtr1")
	if a != b {
		t.Error("ForDevice should reuse the executor for a device")
	}
	if _, err := r.ForDevice(context.Background(), "edge-rtr9"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown device error = %v", err)
	}
}
