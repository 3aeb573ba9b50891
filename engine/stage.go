package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mramospe/jobmgr/engine/procrun"
	"github.com/mramospe/jobmgr/engine/workdir"
)

// pollInterval is how often a running stage's worker samples the shared
// kill flag while its child is alive. Short enough to make kill feel
// immediate, long enough to not busy-wait.
const pollInterval = 50 * time.Millisecond

// DataBuilder maps a payload's path list to additional argv tokens. The
// returned string is whitespace-split into tokens; the default builder
// joins paths with a single space, which is unsafe for paths containing
// whitespace (callers with such paths must supply a custom builder).
type DataBuilder func(paths []string) string

// DefaultDataBuilder is the builder used when Stage construction omits one.
func DefaultDataBuilder(paths []string) string {
	return strings.Join(paths, " ")
}

// Stage owns one external command, one working directory, one worker
// goroutine, and the inbound/outbound mailboxes linking it to its
// neighbors in a Pipeline.
type Stage struct {
	log zerolog.Logger

	Name        string
	argv        []string
	dataRegex   *regexp.Regexp
	dataBuilder DataBuilder
	odir        string

	inbound  *Mailbox // nil for the first stage in a pipeline
	outbound *Mailbox

	killFlag *atomic.Bool // shared with the owning Pipeline

	terminatedFlag atomic.Bool
	running        atomic.Bool // true while the worker goroutine is in flight

	mu     sync.Mutex
	status Status

	doneCh chan struct{}
	wg     sync.WaitGroup
}

// NewStage binds all fields and compiles data_regex. prev is the previous
// stage in the pipeline, or nil if this is the first stage; its outbound
// mailbox becomes this stage's inbound.
func NewStage(name, executable string, opts []string, odir, dataRegex string, builder DataBuilder, killFlag *atomic.Bool, prev *Stage) (*Stage, error) {
	re, err := regexp.Compile(dataRegex)
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w: %v", name, ErrInvalidRegex, err)
	}

	if builder == nil {
		builder = DefaultDataBuilder
	}

	s := &Stage{
		Name:        name,
		argv:        append([]string{executable}, opts...),
		dataRegex:   re,
		dataBuilder: builder,
		odir:        odir,
		killFlag:    killFlag,
		outbound:    NewMailbox(),
		status:      StatusNew,
		log:         zerolog.Nop(),
	}
	if prev != nil {
		s.inbound = prev.outbound
	}
	return s, nil
}

// NewStandaloneStage constructs a Stage with its own private kill flag and
// no inbound mailbox, suitable for registering directly in a Registry as a
// single-stage job (rather than as part of a Pipeline).
func NewStandaloneStage(name, executable string, opts []string, odir, dataRegex string, builder DataBuilder) (*Stage, error) {
	return NewStage(name, executable, opts, odir, dataRegex, builder, &atomic.Bool{}, nil)
}

// SetLogger attaches a logger scoped to this stage, overriding the default
// no-op logger installed at construction.
func (s *Stage) SetLogger(l zerolog.Logger) {
	s.log = l.With().Str("stage", s.Name).Logger()
}

// Kill sets this stage's kill flag and waits for it to exit. Intended for
// standalone stages registered directly in a Registry; a stage that is
// part of a Pipeline shares its kill flag with the pipeline, so
// Pipeline.Kill is the correct call there (calling Stage.Kill on a
// pipeline member kills the whole pipeline too, since the flag is
// shared -- that's the intended escalation, not a bug).
func (s *Stage) Kill() {
	if s.UpdateStatus().Absorbing() {
		return
	}
	s.killFlag.Store(true)
	s.Wait()
}

// Status returns the last reconciled status. Call UpdateStatus first to
// observe a transition without waiting.
func (s *Stage) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Stage) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// UpdateStatus reconciles status from internal flags. Safe to call
// concurrently with the worker; calling it any number of times after the
// worker has exited yields the same result.
func (s *Stage) UpdateStatus() Status {
	switch {
	case s.terminatedFlag.Load():
		s.setStatus(StatusTerminated)
	case !s.running.Load() && s.killFlag.Load():
		s.setStatus(StatusKilled)
	}
	return s.Status()
}

// ClearInputData non-blockingly drains the inbound mailbox. Used by
// Pipeline when restarting from a later index so the first stage to start
// doesn't consume a stale payload.
func (s *Stage) ClearInputData() {
	if s.inbound != nil {
		s.inbound.Clear()
	}
}

// Wait blocks until the worker has exited.
func (s *Stage) Wait() {
	if s.doneCh != nil {
		<-s.doneCh
	}
}

// Start transitions status to running, clears terminated_flag, and spawns
// the worker. Concurrent Start on an already-running stage returns
// ErrAlreadyRunning instead of racing with the in-flight worker; Pipeline
// avoids this entirely by killing/waiting first.
func (s *Stage) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("stage %q: %w", s.Name, ErrAlreadyRunning)
	}

	s.terminatedFlag.Store(false)
	s.setStatus(StatusRunning)
	s.doneCh = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.doneCh)
		defer s.running.Store(false)
		s.run()
	}()

	return nil
}

// run implements the worker algorithm (spec §4.2).
func (s *Stage) run() {
	haveInbound := s.inbound != nil

	var payload Payload
	if haveInbound {
		payload = s.inbound.Get()
		if payload.Kill {
			s.finish(payload, haveInbound, true)
			return
		}
	}

	var extraArgv []string
	if haveInbound {
		extraArgv = strings.Fields(s.dataBuilder(payload.Files))
	}

	if s.killFlag.Load() {
		s.finish(payload, haveInbound, true)
		return
	}

	if err := workdir.Reset(s.odir); err != nil {
		s.log.Error().Err(err).Msg("could not prepare working directory")
		s.killFlag.Store(true)
		s.finish(payload, haveInbound, true)
		return
	}

	argv := make([]string, 0, len(s.argv)+len(extraArgv))
	argv = append(argv, s.argv...)
	argv = append(argv, extraArgv...)

	handle, err := procrun.Start(context.Background(), argv, s.odir)
	if err != nil {
		s.log.Error().Err(err).Strs("argv", argv).Msg("could not start child process")
		s.killFlag.Store(true)
		s.finish(payload, haveInbound, true)
		return
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	killedByFlag := false
loop:
	for {
		select {
		case <-handle.Done():
			break loop
		case <-ticker.C:
			if s.killFlag.Load() {
				handle.Kill()
				killedByFlag = true
			}
		}
	}

	code, _ := handle.Wait()

	switch {
	case killedByFlag:
		s.finish(payload, haveInbound, true)
	case code != 0:
		s.log.Warn().Int("code", code).Msg("child process exited with non-zero status")
		s.killFlag.Store(true)
		s.finish(payload, haveInbound, true)
	default:
		s.finish(payload, haveInbound, false)
	}
}

// finish publishes the stage's output (Kill, or the matched file list) and
// re-publishes the consumed payload to the inbound mailbox, per the
// republish-on-exit contract that makes restart-from-later-index work.
func (s *Stage) finish(consumed Payload, haveInbound, killed bool) {
	if killed {
		s.outbound.Put(KillPayload)
	} else {
		files, err := s.matchOutputFiles()
		if err != nil {
			s.log.Error().Err(err).Msg("could not list working directory")
			s.outbound.Put(KillPayload)
		} else {
			s.outbound.Put(FilesPayload(files))
			s.terminatedFlag.Store(true)
		}
	}
	if haveInbound {
		s.inbound.Put(consumed)
	}
}

// matchOutputFiles lists s.odir and returns the absolute paths of entries
// whose basename fully matches dataRegex, in directory-listing order.
func (s *Stage) matchOutputFiles() ([]string, error) {
	entries, err := os.ReadDir(s.odir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if fullMatch(s.dataRegex, e.Name()) {
			files = append(files, filepath.Join(s.odir, e.Name()))
		}
	}
	return files, nil
}

func fullMatch(re *regexp.Regexp, s string) bool {
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// Peek opens the stage's stdout or stderr file in a text editor.
func (s *Stage) Peek(stream, editor string) error {
	if stream != "stdout" && stream != "stderr" {
		return fmt.Errorf("%w: unknown stream %q", ErrInvalidArgument, stream)
	}

	path := filepath.Join(s.odir, stream)

	if editor == "" {
		switch {
		case lookPathOK("emacs"):
			editor = "emacs -nw"
		case lookPathOK("vi"):
			editor = "vi"
		default:
			return fmt.Errorf("%w: no text editor available", ErrNotFound)
		}
	} else if !lookPathOK(firstWord(editor)) {
		return fmt.Errorf("%w: editor %q not found", ErrNotFound, editor)
	}

	parts := strings.Fields(editor)
	parts = append(parts, path)

	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func lookPathOK(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}
