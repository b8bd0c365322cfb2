// Package ws accepts raw TCP connections, upgrades them through the framed
// transport and pumps decoded messages into the coordinator. One goroutine
// per connection; a read error or close frame triggers the disconnect
// procedure synchronously.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vkyc-labs/signaling/coordinator"
	"github.com/vkyc-labs/signaling/model"
	"github.com/vkyc-labs/signaling/transport"
)

const (
	defaultHandshakeTimeout = 3 * time.Second
)

var ErrUnexpected = errors.New("unexpected server error")

type (
	Config struct {
		Logger      *zerolog.Logger
		Coordinator *coordinator.Coordinator
		ListenAddr  string
		Path        string
	}

	Server struct {
		logger zerolog.Logger
		coord  *coordinator.Coordinator
		addr   string
		path   string
		ln     net.Listener
	}
)

func NewServer(cfg Config) *Server {
	return &Server{
		logger: cfg.Logger.With().Str("component", "ws-server").Logger(),
		coord:  cfg.Coordinator,
		addr:   cfg.ListenAddr,
		path:   cfg.Path,
	}
}

// Listen binds the listener ahead of Run. Run calls it on its own when it
// was not called explicitly; tests use it to learn the bound port.
func (srv *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", srv.addr)
	if err != nil {
		return nil, err
	}
	srv.ln = ln
	return ln.Addr(), nil
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	if srv.ln == nil {
		if _, err := srv.Listen(); err != nil {
			errc <- errors.Join(ErrUnexpected, err)
			return
		}
	}
	go func() {
		<-ctx.Done()
		_ = srv.ln.Close()
	}()

	srv.logger.Info().
		Str("addr", srv.ln.Addr().String()).
		Str("path", srv.path).
		Msg("server started")

	for {
		nc, err := srv.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errc <- errors.Join(ErrUnexpected, err)
			return
		}
		go srv.handleConn(nc)
	}
}

func (srv *Server) handleConn(nc net.Conn) {
	// the handshake must arrive promptly; after it, the only liveness
	// signal is the stream closing
	_ = nc.SetReadDeadline(time.Now().Add(defaultHandshakeTimeout))
	conn, err := transport.Accept(nc, srv.path, &srv.logger)
	if err != nil {
		srv.logger.Debug().
			Err(err).
			Str("remote", nc.RemoteAddr().String()).
			Msg("handshake rejected")
		return
	}
	_ = nc.SetReadDeadline(time.Time{})

	peer := srv.coord.Attach(peerWire{conn: conn})
	logger := srv.logger.With().
		Uint64("peerID", peer.ID).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	logger.Debug().Msg("connection established")

	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrConnClosed), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				logger.Debug().Msg("connection closed")
			default:
				logger.Error().Err(err).Msg("receive failed")
			}
			break
		}
		srv.coord.Handle(peer, payload)
	}

	srv.coord.Detach(peer)
	conn.Close()
}

// peerWire adapts a framed connection to the store's outbound interface.
type peerWire struct {
	conn *transport.Conn
}

func (w peerWire) Send(msg model.Message) {
	w.conn.SendJSON(msg)
}
