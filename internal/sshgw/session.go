package sshgw

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/tunnelgate/tunnelgate/internal/metrics"
	"github.com/tunnelgate/tunnelgate/internal/tunnel"
	"github.com/tunnelgate/tunnelgate/pkg/types"
)

// sessionState is the per-connection state machine: INIT until
// auth_publickey succeeds, AUTHED afterward. Every global-request
// handler guards on the current state before acting.
type sessionState int

const (
	stateInit sessionState = iota
	stateAuthed
)

// session tracks one accepted SSH connection: its authenticated
// identity and every subdomain it has allocated, so disconnect can
// clean all of them up.
type session struct {
	manager  *tunnel.Manager
	minPort  int
	clientIP string
	userID   string
	tier     string

	mu                  sync.Mutex
	state               sessionState
	allocatedSubdomains []string

	log zerolog.Logger
}

func newSession(manager *tunnel.Manager, minPort int, clientIP, userID, tier string, log zerolog.Logger) *session {
	return &session{
		manager:  manager,
		minPort:  minPort,
		clientIP: clientIP,
		userID:   userID,
		tier:     tier,
		state:    stateAuthed, // publickey auth already succeeded by the time ssh.NewServerConn returns
		log:      log.With().Str("client_ip", clientIP).Str("user_id", userID).Logger(),
	}
}

// tcpipForwardPayload is the wire shape of a tcpip-forward global
// request, per RFC 4254 §7.1.
type tcpipForwardPayload struct {
	Addr string
	Port uint32
}

type portOnlyPayload struct {
	Port uint32
}

// forwardedTCPIPChannelPayload is the wire shape of the channel-open
// request the server sends the client for each accepted connection on
// a forwarded port, per RFC 4254 §7.2.
type forwardedTCPIPChannelPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// handleGlobalRequests services tcpip-forward and cancel-tcpip-forward
// for the lifetime of the connection; it returns when the requests
// channel closes (i.e. the connection drops).
func (s *session) handleGlobalRequests(ctx context.Context, conn *ssh.ServerConn, reqs <-chan *ssh.Request) {
	for req := range reqs {
		s.mu.Lock()
		authed := s.state == stateAuthed
		s.mu.Unlock()
		if !authed {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}
		switch req.Type {
		case "tcpip-forward":
			s.handleTCPIPForward(ctx, conn, req)
		case "cancel-tcpip-forward":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *session) handleTCPIPForward(ctx context.Context, conn *ssh.ServerConn, req *ssh.Request) {
	var payload tcpipForwardPayload
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		s.log.Warn().Err(err).Msg("malformed tcpip-forward payload")
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
		return
	}

	if err := validateForwardPort(payload.Port, s.minPort); err != nil {
		metrics.SSHInvalidPort.Inc()
		s.log.Warn().Err(err).Msg("rejected tcpip-forward")
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
		return
	}

	tun, err := s.manager.Create(ctx, tunnel.CreateRequest{
		ClientIP:   s.clientIP,
		UserID:     s.userID,
		Tier:       s.tier,
		TargetPort: int(payload.Port),
		Protocol:   types.ProtocolHTTP,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to create tunnel for tcpip-forward")
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
		return
	}

	s.mu.Lock()
	s.allocatedSubdomains = append(s.allocatedSubdomains, tun.Subdomain)
	s.mu.Unlock()

	_, boundPortStr, _ := net.SplitHostPort(tun.BindAddr())
	boundPort := parsePortOrZero(boundPortStr)

	if req.WantReply {
		reply := ssh.Marshal(&portOnlyPayload{Port: boundPort})
		_ = req.Reply(true, reply)
	}

	s.log.Info().Str("subdomain", tun.Subdomain).Uint32("bound_port", boundPort).Msg("tunnel allocated for ssh client")

	go s.forwardLoop(conn, tun, payload.Addr, payload.Port)
}

// forwardLoop accepts connections on the tunnel's loopback listener and
// bridges each one to a forwarded-tcpip channel opened back to the SSH
// client, which holds the real local service.
func (s *session) forwardLoop(conn *ssh.ServerConn, tun *tunnel.Tunnel, addr string, port uint32) {
	for {
		local, err := tun.Accept()
		if err != nil {
			return
		}
		go s.bridgeConnection(conn, tun, local, addr, port)
	}
}

func (s *session) bridgeConnection(conn *ssh.ServerConn, tun *tunnel.Tunnel, local net.Conn, addr string, port uint32) {
	defer local.Close()

	if !tun.Allow() {
		return
	}
	if err := tun.Breaker().Allow(); err != nil {
		return
	}

	originHost, originPortStr, _ := net.SplitHostPort(local.RemoteAddr().String())
	originPort := parsePortOrZero(originPortStr)

	payload := ssh.Marshal(&forwardedTCPIPChannelPayload{
		Addr:       addr,
		Port:       port,
		OriginAddr: originHost,
		OriginPort: originPort,
	})

	channel, requests, err := conn.OpenChannel("forwarded-tcpip", payload)
	if err != nil {
		tun.Breaker().RecordFailure()
		s.log.Warn().Err(err).Msg("failed to open forwarded-tcpip channel")
		return
	}
	tun.Breaker().RecordSuccess()
	defer channel.Close()
	go ssh.DiscardRequests(requests)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(channel, local)
		channel.CloseWrite()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(local, channel)
	}()
	wg.Wait()
}

// cleanup removes every subdomain this session allocated. Called on
// disconnect; best-effort, logged failures. Remove is idempotent so a
// racing API-initiated delete is harmless.
func (s *session) cleanup(ctx context.Context) {
	s.mu.Lock()
	subdomains := s.allocatedSubdomains
	s.allocatedSubdomains = nil
	s.mu.Unlock()

	for _, sub := range subdomains {
		if err := s.manager.Remove(ctx, sub); err != nil {
			s.log.Warn().Err(err).Str("subdomain", sub).Msg("failed to clean up tunnel on disconnect")
		}
	}
}

func parsePortOrZero(s string) uint32 {
	var n uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + uint32(c-'0')
	}
	return n
}
