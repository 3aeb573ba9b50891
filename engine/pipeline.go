package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/mramospe/jobmgr/engine/workdir"
)

// Pipeline is an ordered, linear sequence of stages sharing a single kill
// flag and a working-directory root.
type Pipeline struct {
	log zerolog.Logger

	Jid     int    // assigned by the owning Registry
	RootDir string // root passed by the caller
	Dir     string // root/<pid>, allocated once at construction

	killFlag atomic.Bool

	mu     sync.Mutex
	stages []*Stage
	names  map[string]int
	status Status
}

// NewPipeline allocates a fresh numbered subdirectory under rootDir and
// registers the pipeline in reg (the process-wide default registry if reg
// is nil).
func NewPipeline(rootDir string, reg *Registry) (*Pipeline, error) {
	dir, err := workdir.Allocate(rootDir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		RootDir: rootDir,
		Dir:     dir,
		names:   make(map[string]int),
		status:  StatusNew,
		log:     zerolog.Nop(),
	}

	if reg == nil {
		reg = Default()
	}
	p.Jid = reg.Register(p)
	p.log = p.log.With().Int("jid", p.Jid).Logger()

	return p, nil
}

// SetLogger attaches a logger scoped to this pipeline and propagates a
// derived logger to every stage added so far.
func (p *Pipeline) SetLogger(l zerolog.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = l.With().Int("jid", p.Jid).Logger()
	for _, s := range p.stages {
		s.SetLogger(p.log)
	}
}

// AddStage appends a stage wired to the previous stage's outbound mailbox.
func (p *Pipeline) AddStage(name, executable string, opts []string, dataRegex string, builder DataBuilder) (*Stage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.names[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}

	var prev *Stage
	if n := len(p.stages); n > 0 {
		prev = p.stages[n-1]
	}

	odir := filepath.Join(p.Dir, name)
	s, err := NewStage(name, executable, opts, odir, dataRegex, builder, &p.killFlag, prev)
	if err != nil {
		return nil, err
	}
	s.SetLogger(p.log)

	p.names[name] = len(p.stages)
	p.stages = append(p.stages, s)

	return s, nil
}

// StageCount returns the number of stages added so far.
func (p *Pipeline) StageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stages)
}

// Stages returns a snapshot of the stage slice, in pipeline order.
func (p *Pipeline) Stages() []*Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Status returns the last reconciled aggregate status.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Pipeline) setStatus(st Status) {
	p.mu.Lock()
	p.status = st
	p.mu.Unlock()
}

// UpdateStatus derives the pipeline's status from its stages' statuses. A
// no-op once the pipeline has reached an absorbing state.
func (p *Pipeline) UpdateStatus() Status {
	if cur := p.Status(); cur.Absorbing() {
		return cur
	}

	stages := p.Stages()
	if len(stages) == 0 {
		return p.Status()
	}

	allTerminated := true
	anyKilled := false
	for _, s := range stages {
		switch s.UpdateStatus() {
		case StatusTerminated:
		case StatusKilled:
			anyKilled = true
			allTerminated = false
		default:
			allTerminated = false
		}
	}

	switch {
	case allTerminated:
		p.setStatus(StatusTerminated)
	case anyKilled:
		p.setStatus(StatusKilled)
	}

	return p.Status()
}

// resolveIndex maps first (an int index or a stage name) to a 0-based
// stage index.
func (p *Pipeline) resolveIndex(first any) (int, error) {
	stages := p.Stages()

	switch v := first.(type) {
	case nil:
		return 0, nil
	case int:
		if v < 0 || v >= len(stages) {
			return 0, fmt.Errorf("%w: index %d out of range", ErrLookup, v)
		}
		return v, nil
	case string:
		p.mu.Lock()
		idx, ok := p.names[v]
		p.mu.Unlock()
		if !ok {
			return 0, fmt.Errorf("%w: stage %q", ErrLookup, v)
		}
		return idx, nil
	default:
		return 0, fmt.Errorf("%w: invalid selector type %T", ErrLookup, first)
	}
}

// Start begins (or restarts) pipeline execution from the given stage,
// selected by 0-based index (int) or by name (string); pass nil to start
// from the beginning. If the pipeline is currently running it is killed
// and waited on first. history is discarded on restart.
func (p *Pipeline) Start(first any) error {
	if p.UpdateStatus() == StatusRunning {
		p.Kill()
	}
	// the aggregate status can already read killed while a sibling stage
	// is still winding down, so wait for every worker before restarting.
	p.Wait()

	i, err := p.resolveIndex(first)
	if err != nil {
		return err
	}

	p.killFlag.Store(false)
	p.setStatus(StatusRunning)

	stages := p.Stages()

	// drain stale payloads from the tail forward, so restarting from a
	// later index doesn't deadlock on a payload nobody will ever produce
	// again in this run.
	for idx := len(stages) - 1; idx > i; idx-- {
		stages[idx].ClearInputData()
	}
	// nothing consumes the last stage's outbound mailbox, so its payload
	// from the previous run must go too, or this run's Put would block.
	if n := len(stages); n > 0 {
		stages[n-1].outbound.Clear()
	}

	for idx := i; idx < len(stages); idx++ {
		if err := stages[idx].Start(); err != nil {
			// Kill()/Wait() above guarantees no stage is running at this
			// point, so this can only fire on a programming error.
			p.log.Error().Err(err).Str("stage", stages[idx].Name).Msg("unexpected stage start failure")
		}
	}

	return nil
}

// Kill sets the shared kill flag and waits for all stages to exit. A
// no-op if the pipeline has already reached an absorbing status.
func (p *Pipeline) Kill() {
	if p.UpdateStatus().Absorbing() {
		return
	}
	p.killFlag.Store(true)
	p.Wait()
}

// Wait blocks until every stage's worker has exited, in order.
func (p *Pipeline) Wait() {
	for _, s := range p.Stages() {
		s.Wait()
	}
}
