// Package sfss implements the Simulated File System Server: a
// single-threaded UDP responder that serves one SFP request per
// datagram against a real host directory tree.
package sfss

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"ktlsim/internal/kerrors"
	"ktlsim/internal/ktlog"
	"ktlsim/internal/sfp"
)

// Config parameterizes one server run.
type Config struct {
	// RootDir is the host directory backing the virtual "/A{n}" tree.
	RootDir string
	// Addr is the UDP listen address, e.g. ":8888".
	Addr string
	// Logger is the structured logger used throughout. Defaults to
	// ktlog.Default().
	Logger *slog.Logger
}

// Server is one running SFSS instance.
type Server struct {
	root Root
	addr string
	log  *slog.Logger
}

// New constructs a Server ready to Run.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = ktlog.Default()
	}
	return &Server{
		root: Root{Dir: cfg.RootDir},
		addr: cfg.Addr,
		log:  ktlog.WithRole(logger, "sfss"),
	}
}

// Run binds the UDP socket and serves requests until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("sfss: resolve addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("sfss: bind: %w", err)
	}
	defer conn.Close()

	s.log.Info("sfss listening", "addr", conn.LocalAddr(), "root", s.root.Dir)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, sfp.WireSize())
	for {
		n, clientAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				s.log.Warn("recvfrom failed", "error", err)
				continue
			}
		}

		var req sfp.Message
		if err := req.UnmarshalBinary(buf[:n]); err != nil {
			s.log.Warn("malformed SFP datagram, dropping", "error", err)
			continue
		}

		res := s.dispatch(&req)

		data, err := res.MarshalBinary()
		if err != nil {
			s.log.Error("failed to marshal reply", "error", err)
			continue
		}
		if _, err := conn.WriteToUDP(data, clientAddr); err != nil {
			s.log.Warn("sendto failed", "error", err)
		}
	}
}

func (s *Server) dispatch(req *sfp.Message) sfp.Message {
	ktlog.WithMsg(s.log, req.Type).Debug("request", "owner", req.Owner, "path", req.PathString())
	switch req.Type {
	case sfp.RdReq:
		return s.root.HandleRead(req)
	case sfp.WrReq:
		return s.root.HandleWrite(req)
	case sfp.DcReq:
		return s.root.HandleMkdir(req)
	case sfp.DrReq:
		return s.root.HandleRmdir(req)
	case sfp.DlReq:
		return s.root.HandleListdir(req)
	default:
		s.log.Warn("unknown request type", "type", int32(req.Type))
		return sfp.Message{
			Type:    req.Type.Reply(),
			Owner:   req.Owner,
			PathLen: kerrors.Status(kerrors.ErrUnknownMessage),
		}
	}
}
