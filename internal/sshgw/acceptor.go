// Package sshgw is the server-side SSH acceptor: it terminates reverse
// tunnel connections (tcpip-forward) from tunnelgate clients, in
// contrast to an outbound SSH dialer. Each accepted TCP connection runs
// its own protocol state machine via a fresh session.
package sshgw

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/tunnelgate/tunnelgate/internal/metrics"
	"github.com/tunnelgate/tunnelgate/internal/supabase"
	"github.com/tunnelgate/tunnelgate/internal/tunnel"
)

// Acceptor binds the SSH address and runs the accept loop until Close
// is called. Serve's context is only consulted when Accept fails, so
// canceling it alone does not end the loop.
type Acceptor struct {
	listener   net.Listener
	config     *ssh.ServerConfig
	manager    *tunnel.Manager
	gateway    *supabase.Client
	minSSHPort int
	log        zerolog.Logger
}

// New binds addr and prepares the server SSH config, loading (or, on
// first boot, generating) the host key at hostKeyPath.
func New(addr, hostKeyPath string, manager *tunnel.Manager, gateway *supabase.Client, minSSHPort int, log zerolog.Logger) (*Acceptor, error) {
	signer, err := loadOrCreateHostKey(hostKeyPath)
	if err != nil {
		return nil, err
	}

	a := &Acceptor{
		manager:    manager,
		gateway:    gateway,
		minSSHPort: minSSHPort,
		log:        log.With().Str("component", "sshgw").Logger(),
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			userID, tier, err := authenticate(context.Background(), gateway, conn.User())
			if err != nil {
				metrics.AuthFailure.WithLabelValues("ssh", "invalid_key").Inc()
				return nil, err
			}
			return &ssh.Permissions{
				Extensions: map[string]string{"user_id": userID, "tier": tier},
			}, nil
		},
		AuthLogCallback: func(conn ssh.ConnMetadata, method string, err error) {
			if err != nil {
				a.log.Debug().Str("user", conn.User()).Str("method", method).Err(err).Msg("ssh auth attempt failed")
			}
		},
	}
	config.AddHostKey(signer)
	a.config = config

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sshgw: binding %s: %w", addr, err)
	}
	a.listener = listener
	return a, nil
}

// Addr returns the bound address, mainly for tests.
func (a *Acceptor) Addr() string {
	return a.listener.Addr().String()
}

// Serve runs the accept loop until the listener is closed. Accept
// failures are logged and the loop continues; a closed listener ends
// the loop cleanly.
func (a *Acceptor) Serve(ctx context.Context) error {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if isClosedErr(err) {
				return nil
			}
			a.log.Warn().Err(err).Msg("ssh accept failed")
			continue
		}
		go a.handleConn(ctx, conn)
	}
}

func (a *Acceptor) handleConn(ctx context.Context, conn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, a.config)
	if err != nil {
		a.log.Debug().Err(err).Msg("ssh handshake failed")
		conn.Close()
		return
	}
	defer sshConn.Close()

	clientIP, _, _ := net.SplitHostPort(sshConn.RemoteAddr().String())
	userID := sshConn.Permissions.Extensions["user_id"]
	tier := sshConn.Permissions.Extensions["tier"]

	sess := newSession(a.manager, a.minSSHPort, clientIP, userID, tier, a.log)
	defer func() { go sess.cleanup(context.Background()) }()

	go a.handleChannels(chans)
	sess.handleGlobalRequests(ctx, sshConn, reqs)
}

// handleChannels accepts "session" channel opens (the client's
// interactive/keepalive channel) and discards requests on them; the
// gateway has no shell or exec to offer.
func (a *Acceptor) handleChannels(chans <-chan ssh.NewChannel) {
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go ssh.DiscardRequests(requests)
		go drainChannel(channel)
	}
}

// drainChannel reads until the client closes its session channel. The
// gateway offers no shell or exec, so there is nothing to act on here.
func drainChannel(channel ssh.Channel) {
	defer channel.Close()
	buf := make([]byte, 1024)
	for {
		if _, err := channel.Read(buf); err != nil {
			return
		}
	}
}

// Close stops accepting new connections.
func (a *Acceptor) Close() error {
	return a.listener.Close()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
