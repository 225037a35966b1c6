package wire

import (
	"context"
	"log"
	"net"
	"sync"

	"github.com/tidwall/redcon"

	"github.com/docshard/docshard/internal/command"
	wirebytes "github.com/docshard/docshard/pkg/bytes"
)

// Server is the RESP front end over the command registry, grounded on
// the teacher's protocol.Server (internal/protocol/server.go).
type Server struct {
	addr     string
	registry *command.Registry

	mu       sync.RWMutex
	listener net.Listener
	server   *redcon.Server
}

// NewServer returns a Server that dispatches every RESP command whose
// name is registered in registry.
func NewServer(addr string, registry *command.Registry) *Server {
	return &Server{addr: addr, registry: registry}
}

// Start binds addr and serves RESP connections until Stop is called.
func (s *Server) Start() error {
	log.Printf("wire: shard daemon listening on %s", s.addr)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := redcon.NewServer(s.addr, s.handleCommand, s.handleAccept, s.handleClose)

	s.mu.Lock()
	s.listener = ln
	s.server = srv
	s.mu.Unlock()

	return srv.Serve(ln)
}

// Stop stops the server.
func (s *Server) Stop() error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln != nil {
		return ln.Addr().String()
	}
	return s.addr
}

func (s *Server) handleAccept(conn redcon.Conn) bool {
	return true
}

func (s *Server) handleClose(conn redcon.Conn, err error) {}

func (s *Server) handleCommand(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		conn.WriteError("ERR empty command")
		return
	}

	// Command names are only used for the registry lookup below, never
	// retained past this call, so the zero-copy view is safe.
	name := wirebytes.BytesToString(cmd.Args[0])
	handler, ok := s.registry.Lookup(name)
	if !ok {
		conn.WriteError("ERR unknown command '" + name + "'")
		return
	}

	var argsJSON []byte
	if len(cmd.Args) > 1 {
		argsJSON = cmd.Args[1]
	}

	// Every handler in this module runs in the goroutine redcon gives
	// this connection, the Go analogue of spec.md §5 "every RPC handler
	// runs on its own thread."
	reply, err := handler.Run(context.Background(), argsJSON)
	if err != nil {
		conn.WriteError("ERR " + err.Error())
		return
	}
	conn.WriteBulk(reply)
}
