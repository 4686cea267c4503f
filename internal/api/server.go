// Package api serves the dispatch core over HTTP: what the host can do,
// which strategies are registered, and which one a described operator
// would bind. Plans carry descriptors only, never tensor data.
package api

import (
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/stratum/internal/backend"
	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/logger"
	"github.com/samcharles93/stratum/internal/tensor"
	"github.com/samcharles93/stratum/internal/window"
)

// Opener returns the backend a request names.
type Opener func(name string) (backend.Backend, error)

// Server answers capability, strategy and plan queries. Backends are
// opened on first use and shared between requests.
type Server struct {
	open        Opener
	defaultName string
	log         logger.Logger

	mu     sync.Mutex
	opened map[string]backend.Backend
}

// Option configures a Server.
type Option func(*Server)

// WithOpener replaces backend.New, mainly for tests.
func WithOpener(open Opener) Option {
	return func(s *Server) { s.open = open }
}

// WithDefaultBackend sets the backend used when a request names none.
func WithDefaultBackend(name string) Option {
	return func(s *Server) { s.defaultName = name }
}

// WithLogger receives request and selection events.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer returns a server opening backends with backend.New and
// defaulting to the CPU.
func NewServer(opts ...Option) *Server {
	s := &Server{
		open:        backend.New,
		defaultName: backend.CPU,
		log:         logger.Discard(),
		opened:      make(map[string]backend.Backend),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts the /v1 routes on e.
func (s *Server) Register(e *echo.Echo) {
	g := e.Group("/v1", requestID)
	g.GET("/capabilities", s.handleCapabilities)
	g.GET("/strategies", s.handleStrategies)
	g.POST("/validate", s.handleValidate)
	g.POST("/select", s.handleSelect)
}

// requestID echoes the caller's X-Request-Id or mints one.
func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id := strings.TrimSpace(c.Request().Header.Get(echo.HeaderXRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, id)
		return next(c)
	}
}

// backendFor opens each named backend once and reuses it.
func (s *Server) backendFor(name string) (backend.Backend, error) {
	if name == "" {
		name = s.defaultName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.opened[name]; ok {
		return b, nil
	}
	b, err := s.open(name)
	if err != nil {
		return nil, newInvalidRequest(err.Error())
	}
	s.opened[name] = b
	return b, nil
}

func (s *Server) handleCapabilities(c *echo.Context) error {
	b, err := s.backendFor(c.QueryParam("backend"))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, CapabilitiesResponse{
		Backend:      b.Name(),
		Capabilities: capNames(b.Capabilities()),
		Available:    strings.Split(backend.Available(), ","),
		Threads:      b.Scheduler().NumThreads(),
	})
}

func (s *Server) handleStrategies(c *echo.Context) error {
	b, err := s.backendFor(c.QueryParam("backend"))
	if err != nil {
		return writeErr(c, err)
	}
	match, err := strategyFilter(c.QueryParam("op"), c.QueryParam("dtype"))
	if err != nil {
		return writeErr(c, err)
	}
	out := StrategiesResponse{Backend: b.Name(), Strategies: []StrategyInfo{}}
	for _, st := range b.Registry().Strategies() {
		if match(st) {
			out.Strategies = append(out.Strategies, strategyInfo(st))
		}
	}
	return c.JSON(http.StatusOK, out)
}

func strategyFilter(op, dtype string) (func(*kernel.Strategy) bool, error) {
	wantOp := kernel.OpUnknown
	if op != "" {
		k, err := kernel.ParseOpKind(op)
		if err != nil {
			return nil, newInvalidRequest(err.Error())
		}
		wantOp = k
	}
	wantType := tensor.DataTypeUnknown
	if dtype != "" {
		dt, err := tensor.ParseDataType(dtype)
		if err != nil {
			return nil, newInvalidRequest(err.Error())
		}
		wantType = dt
	}
	return func(st *kernel.Strategy) bool {
		if wantOp != kernel.OpUnknown && st.Op != wantOp {
			return false
		}
		return wantType == tensor.DataTypeUnknown || st.DType == wantType
	}, nil
}

// selection is the outcome of running a plan through strategy selection.
type selection struct {
	cfg      *kernel.Config
	caps     cpuinfo.Set
	backend  backend.Backend
	strategy *kernel.Strategy
}

func (s *Server) selectPlan(c *echo.Context) (selection, error) {
	req, err := decodeJSON[PlanRequest](c.Request().Body)
	if err != nil {
		return selection{}, newInvalidRequest(err.Error())
	}
	cfg, err := req.config()
	if err != nil {
		return selection{}, err
	}
	b, err := s.backendFor(req.Backend)
	if err != nil {
		return selection{}, err
	}
	var caps cpuinfo.Set
	if req.Capabilities != "" {
		if caps, err = cpuinfo.ParseSet(req.Capabilities); err != nil {
			return selection{}, newInvalidRequest(err.Error())
		}
	}
	owner, st, err := backend.Select(b, cfg, caps)
	if err != nil {
		s.log.Debug("plan rejected", "op", cfg.Op, "backend", b.Name(), "err", err)
		return selection{}, err
	}
	if owner != b || caps == 0 {
		caps = owner.Capabilities()
	}
	s.log.Debug("plan selected", "op", cfg.Op, "backend", owner.Name(), "strategy", st.Name)
	return selection{cfg: cfg, caps: caps, backend: owner, strategy: st}, nil
}

func (s *Server) handleValidate(c *echo.Context) error {
	sel, err := s.selectPlan(c)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, ValidateResponse{
		Valid:    true,
		Backend:  sel.backend.Name(),
		Strategy: sel.strategy.Name,
	})
}

func (s *Server) handleSelect(c *echo.Context) error {
	sel, err := s.selectPlan(c)
	if err != nil {
		return writeErr(c, err)
	}
	w, err := window.FromShape(sel.cfg.Output.Desc.Shape(), sel.strategy.Tile)
	if err != nil {
		return writeErr(c, err)
	}
	out := SelectResponse{
		Backend:  sel.backend.Name(),
		Strategy: strategyInfo(sel.strategy),
		Window:   make([][3]int, 0, w.Rank()),
	}
	for _, cand := range sel.backend.Registry().Candidates(sel.cfg.Query(sel.caps)) {
		out.Candidates = append(out.Candidates, strategyInfo(cand))
	}
	for _, d := range w.Dims() {
		out.Window = append(out.Window, [3]int{d.Start, d.End, d.Step})
	}
	return c.JSON(http.StatusOK, out)
}
