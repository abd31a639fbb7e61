package transport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"

	"esfixture/pkg/models"

	"github.com/pkg/errors"
)

// Backend is the node side of the transport protocol.
type Backend interface {
	ClusterName() string
	NodeName() string
	Health() models.ClusterHealth
	CreateIndex(name string, shards, replicas int) error
	Index(index, id string, doc map[string]interface{}) error
	BatchIndex(index string, ids []string, docs []map[string]interface{}) error
	Get(index, id string) (map[string]interface{}, error)
	Delete(index, id string) error
	Search(index string, req models.SearchRequest) (*models.SearchResponse, error)
	Indices() ([]models.IndexInfo, error)
}

type Server struct {
	backend Backend
	logger  *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		backend: backend,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds addr and serves it in the background.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil, errors.WithStack(net.ErrClosed)
	}
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("transport listening", slog.String("address", ln.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(ln); err != nil {
			s.logger.Error("transport stopped", slog.Any("error", err))
		}
	}()

	return ln.Addr(), nil
}

// Serve accepts connections on ln until the server is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("transport accept failed", slog.Any("error", err))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pipe returns the client end of an in-process connection served by s.
func (s *Server) Pipe() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.WithStack(net.ErrClosed)
	}

	client, server := net.Pipe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.ServeConn(server)
	}()
	return client, nil
}

// ServeConn answers requests on conn until it is closed by either side.
func (s *Server) ServeConn(conn net.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				s.logger.Debug("transport decode error", slog.Any("error", err))
			}
			return
		}

		resp := s.handleRequest(req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Debug("transport encode error", slog.Any("error", err))
			return
		}
	}
}

func (s *Server) handleRequest(req Request) Response {
	resp := Response{
		ClusterName: s.backend.ClusterName(),
		NodeName:    s.backend.NodeName(),
	}

	var err error

	switch req.Type {
	case ReqHandshake:
		if req.ClusterName != "" && req.ClusterName != s.backend.ClusterName() {
			err = errors.Wrapf(ErrClusterMismatch, "expected cluster '%s', got '%s'", s.backend.ClusterName(), req.ClusterName)
		}
	case ReqHealth:
		health := s.backend.Health()
		resp.Health = &health
	case ReqCreateIndex:
		err = s.backend.CreateIndex(req.IndexName, req.NumShards, req.NumReplicas)
	case ReqIndex:
		err = s.backend.Index(req.IndexName, req.ID, req.Data)
	case ReqBatchIndex:
		err = s.backend.BatchIndex(req.IndexName, req.BatchIDs, req.BatchDocs)
	case ReqGet:
		resp.Data, err = s.backend.Get(req.IndexName, req.ID)
	case ReqDelete:
		err = s.backend.Delete(req.IndexName, req.ID)
	case ReqSearch:
		search := models.SearchRequest{Query: "*", Size: 10}
		if req.Search != nil {
			search = *req.Search
		}
		resp.Search, err = s.backend.Search(req.IndexName, search)
	case ReqListIndices:
		resp.Indices, err = s.backend.Indices()
	default:
		err = errors.Errorf("unknown request type %d", req.Type)
	}

	if err != nil {
		resp.Err = err.Error()
		resp.Code = errorCode(err)
	}

	return resp
}

// Close stops accepting connections and closes the live ones.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.WithStack(err)
	}
	return nil
}
