// Package operator binds one configured operator invocation to the strategy
// chosen for it and runs that strategy over windows of the output.
package operator

import (
	"slices"

	"github.com/samcharles93/stratum/internal/cpuinfo"
	"github.com/samcharles93/stratum/internal/kernel"
	"github.com/samcharles93/stratum/internal/logger"
	"github.com/samcharles93/stratum/internal/status"
	"github.com/samcharles93/stratum/internal/window"
)

// State is the lifecycle position of an Operator.
type State int

const (
	Unconfigured State = iota
	Configured
)

func (s State) String() string {
	if s == Configured {
		return "configured"
	}
	return "unconfigured"
}

// Operator is configured once and then run any number of times. Run may be
// called concurrently on disjoint windows; Configure may not race with
// anything.
type Operator struct {
	state  State
	cfg    kernel.Config
	exec   kernel.Exec
	window window.Window
	log    logger.Logger
}

// New returns an unconfigured operator. A nil logger discards.
func New(log logger.Logger) *Operator {
	if log == nil {
		log = logger.Discard()
	}
	return &Operator{log: log}
}

// Select runs the configure-time checks that need no buffers and returns
// the strategy Configure would bind. Descriptor problems are configuration
// errors, a request no strategy covers is unsupported, and a request every
// candidate rejects reports the most general candidate's validation error.
func Select(cfg *kernel.Config, reg *kernel.Registry, caps cpuinfo.Set) (*kernel.Strategy, error) {
	if cfg == nil {
		return nil, status.Configuration("nil operator config")
	}
	if err := cfg.CheckDescriptors(); err != nil {
		return nil, err
	}
	return reg.Resolve(cfg.Query(caps), func(s *kernel.Strategy) error {
		if s.Validate == nil {
			return nil
		}
		return s.Validate(s, cfg)
	})
}

// Validate reports whether cfg would configure, without binding anything
// or reading any buffer.
func Validate(cfg *kernel.Config, reg *kernel.Registry, caps cpuinfo.Set) error {
	_, err := Select(cfg, reg, caps)
	return err
}

// Configure selects and prepares a strategy for cfg and binds its tensors.
// Buffers are checked against their descriptors only after a strategy has
// accepted the request. The default window covers the whole output with
// the strategy's tile as step.
func (o *Operator) Configure(cfg *kernel.Config, reg *kernel.Registry, caps cpuinfo.Set) error {
	if o.state != Unconfigured {
		return status.Configuration("operator already configured with %s; create a new one", o.exec.Strategy.Name)
	}
	s, err := Select(cfg, reg, caps)
	if err != nil {
		if cfg != nil {
			o.log.Debug("operator rejected", "op", cfg.Op, "caps", caps, "err", err)
		}
		return err
	}
	if err := cfg.CheckBuffers(); err != nil {
		return err
	}

	bound := *cfg
	bound.Inputs = slices.Clone(cfg.Inputs)
	var plan any
	if s.Prepare != nil {
		if plan, err = s.Prepare(s, &bound); err != nil {
			return err
		}
	}
	w, err := window.FromShape(bound.Output.Desc.Shape(), s.Tile)
	if err != nil {
		return err
	}

	o.cfg = bound
	o.exec = kernel.Exec{Strategy: s, Config: &o.cfg, Plan: plan}
	o.window = w
	o.state = Configured
	o.log.Debug("operator configured",
		"op", bound.Op,
		"dtype", bound.DataType(),
		"strategy", s.Name,
		"tile", s.Tile,
		"caps", caps,
		"window", w,
	)
	return nil
}

// Run executes the bound strategy over w. It performs no validation; w
// must lie inside Window().
func (o *Operator) Run(w window.Window) error {
	if o.state != Configured {
		return status.Configuration("operator run before configure")
	}
	return o.exec.Run(w)
}

// State reports where the operator is in its lifecycle.
func (o *Operator) State() State { return o.state }

// Window returns the default window: the whole output, stepped by tile.
func (o *Operator) Window() window.Window { return o.window }

// Strategy returns the bound strategy, or nil before Configure.
func (o *Operator) Strategy() *kernel.Strategy { return o.exec.Strategy }

// Config returns the bound configuration.
func (o *Operator) Config() *kernel.Config { return &o.cfg }
