package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/edvin/netbackup/internal/config"
)

// ErrAuthRejected marks a dial failure caused by the device rejecting the
// shared credentials, as opposed to the device being unreachable.
var ErrAuthRejected = errors.New("authentication rejected")

// Transport is one device's interactive command stream. Implementations are
// single-session: command bytes and responses are never shared between
// devices. The production implementation speaks SSH; tests use an in-memory
// fake so the completion state machine runs deterministically.
type Transport interface {
	// Send writes one command line to the device.
	Send(line string) error
	// Output streams raw device output. The channel closes when the remote
	// side closes the stream.
	Output() <-chan []byte
	// Close releases the transport. Safe to call on every exit path.
	Close() error
}

// Dialer establishes a Transport to a device address.
type Dialer interface {
	Dial(ctx context.Context, host string, creds config.Credentials) (Transport, error)
}

// SSHDialer dials devices over SSH with the shared account, requests a PTY,
// and starts a shell, mirroring how an operator would reach the device CLI.
type SSHDialer struct {
	// ConnectTimeout bounds the TCP dial and SSH handshake. Defaults to 10s.
	ConnectTimeout time.Duration
}

func (d *SSHDialer) connectTimeout() time.Duration {
	if d.ConnectTimeout > 0 {
		return d.ConnectTimeout
	}
	return 10 * time.Second
}

// Dial connects, authenticates, and opens an interactive shell session.
// Authentication rejections are wrapped with ErrAuthRejected so the session
// runner can classify them apart from connectivity failures.
func (d *SSHDialer) Dial(ctx context.Context, host string, creds config.Credentials) (Transport, error) {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, "22")
	}

	dialer := net.Dialer{Timeout: d.connectTimeout()}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	clientConfig := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(creds.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = creds.Password
				}
				return answers, nil
			}),
		},
		// Network devices present self-signed, frequently regenerated host
		// keys; pinning them is not practical across a fleet.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.connectTimeout(),
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, clientConfig)
	if err != nil {
		tcpConn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("ssh handshake %s: %w", addr, ErrAuthRejected)
		}
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh session %s: %w", addr, err)
	}

	// ECHO off keeps command echoes out of the captured configuration.
	if err := session.RequestPty("vt100", 24, 80, ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("pty request %s: %w", addr, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe %s: %w", addr, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe %s: %w", addr, err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("shell %s: %w", addr, err)
	}

	t := &sshTransport{
		client:  client,
		session: session,
		stdin:   stdin,
		out:     make(chan []byte, 8),
	}

	go func() {
		defer close(t.out)
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				t.out <- chunk
			}
			if err != nil {
				return
			}
		}
	}()

	return t, nil
}

type sshTransport struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	out     chan []byte
}

func (t *sshTransport) Send(line string) error {
	if _, err := t.stdin.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("send %q: %w", line, err)
	}
	return nil
}

func (t *sshTransport) Output() <-chan []byte {
	return t.out
}

func (t *sshTransport) Close() error {
	t.session.Close()
	return t.client.Close()
}
