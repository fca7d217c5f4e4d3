// Package agentserver accepts connections on the local SSH agent socket and
// dispatches framed requests to a shared signing.Handler.
package agentserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"

	"github.com/teidesu/bw-ssh-agent/internal/protocol"
)

// Handler is the subset of signing.Handler the server dispatches to. It is
// shared by reference across all connections; implementations must be
// internally synchronizable.
type Handler interface {
	Identities(ctx context.Context) (protocol.Response, error)
	Sign(ctx context.Context, pubkeyBlob, data []byte, flags protocol.SignatureFlags) (protocol.Response, error)
}

// Server accepts connections on a Unix-domain stream socket and spawns one
// goroutine per connection.
type Server struct {
	handler Handler
}

// New builds a Server dispatching to h.
func New(h Handler) *Server {
	return &Server{handler: h}
}

// Serve accepts connections on ln until it returns an error (typically
// because ln was closed during shutdown). Each connection runs in its own
// goroutine and is independent of every other connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn runs the read-frame/dispatch/write-response loop for one
// connection until an I/O error or peer close. Peer-close (EOF) is silent;
// any other error is logged and the connection is dropped.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close() //nolint:errcheck

	reader := bufio.NewReader(conn)
	for {
		req, err := protocol.ReadRequest(reader)
		if err != nil {
			if !isPeerClose(err) {
				log.Printf("agentserver: connection error: %v", err)
			}
			return
		}

		resp, err := s.dispatch(ctx, req)
		if err != nil {
			log.Printf("agentserver: dispatch error: %v", err)
			return
		}

		if err := protocol.WriteResponse(conn, resp); err != nil {
			if !isPeerClose(err) {
				log.Printf("agentserver: write error: %v", err)
			}
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	switch req.Kind {
	case protocol.RequestIdentities:
		return s.handler.Identities(ctx)
	case protocol.RequestSign:
		return s.handler.Sign(ctx, req.PubkeyBlob, req.Data, req.Flags)
	default:
		// Extension and Unknown (add/remove/lock/unlock/smartcard) requests
		// are always answered with Failure.
		return protocol.Failure(), nil
	}
}

func isPeerClose(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
