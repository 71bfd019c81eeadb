// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/scanforge-foundation/scanforge/lib/codec"
	"github.com/scanforge-foundation/scanforge/lib/protocol"
)

// Server carries the message protocol over a Unix domain socket.
// Connections and requests are handled strictly sequentially — the
// server is the at-most-one-in-flight queue that the controller's
// unguarded state relies on.
type Server struct {
	controller *Controller
	logger     *slog.Logger
}

// NewServer wraps a controller for serving.
func NewServer(controller *Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{controller: controller, logger: logger}
}

// Listen binds the Unix socket, removing a stale socket file from a
// previous run first.
func (s *Server) Listen(socketPath string) (net.Listener, error) {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("worker: removing stale socket: %w", err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("worker: listening on %s: %w", socketPath, err)
	}
	s.logger.Info("worker listening", "socket", socketPath)
	return listener, nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection is drained completely before the next is
// accepted.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("worker: accept: %w", err)
		}
		s.handleConnection(ctx, conn)
	}
}

// handleConnection processes the request stream from one host
// connection in arrival order. The controller's emitter points at
// this connection for the duration.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	emit := func(event protocol.Event) {
		if err := encoder.Encode(event); err != nil {
			s.logger.Error("encoding event", "kind", event.Kind, "error", err)
		}
	}
	previous := s.controller.SetEmitter(emit)
	defer s.controller.SetEmitter(previous)

	for {
		var request protocol.Request
		if err := decoder.Decode(&request); err != nil {
			// EOF and friends: the host went away; anything else is a
			// malformed stream, which we cannot answer on either.
			s.logger.Info("connection closed", "error", err)
			return
		}

		s.logger.Debug("request", "kind", request.Kind)

		switch request.Kind {
		case protocol.KindInit:
			s.controller.Initialize(ctx, request.RulesHash)

		case protocol.KindScan:
			s.controller.Scan(ctx, request)

		default:
			emit(protocol.Event{
				Kind:    protocol.KindError,
				Message: fmt.Sprintf("unknown request kind: %q", request.Kind),
			})
		}
	}
}
