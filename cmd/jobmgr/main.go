// Command jobmgr is a thin driver around the engine package: it loads a
// pipeline definition (or assembles a trivial smoke-test pipeline from
// positional args), runs it to completion under the process-wide
// default registry and monitor, and prints its final status.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/mramospe/jobmgr/engine"
	"github.com/mramospe/jobmgr/engine/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("jobmgr failed")
	}
}

func run(args []string) error {
	f := pflag.NewFlagSet("jobmgr", pflag.ExitOnError)
	f.SortFlags = false
	root := f.String("root", "", "root directory under which pipeline working directories are allocated")
	cfgPath := f.String("config", "", "path to a pipeline definition file (YAML/JSON)")
	logLevel := f.StringP("log-level", "l", "info", "log level (debug/info/warn/error/disabled)")
	if err := f.Parse(args); err != nil {
		return err
	}

	resolvedLevel := *logLevel

	var spec *config.PipelineSpec
	if *cfgPath != "" {
		var err error
		spec, err = config.Load(*cfgPath, f)
		if err != nil {
			return err
		}
		resolvedLevel = spec.LogLevel
	}

	lvl, err := zerolog.ParseLevel(resolvedLevel)
	if err != nil {
		return fmt.Errorf("jobmgr: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)

	logger := log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	})

	reg := engine.Default()
	reg.SetLogger(logger)

	mon := engine.NewMonitor(reg)
	mon.Start()
	defer mon.Stop()

	var p *engine.Pipeline
	if spec != nil {
		p, err = spec.Build(reg)
		if err != nil {
			return err
		}
	} else {
		rest := f.Args()
		if len(rest) == 0 {
			return fmt.Errorf("jobmgr: need --config or a positional EXECUTABLE [ARGS...] for a smoke-test pipeline")
		}
		p, err = engine.NewPipeline(*root, reg)
		if err != nil {
			return err
		}
		if _, err := p.AddStage("main", rest[0], rest[1:], ".*", nil); err != nil {
			return err
		}
	}

	p.SetLogger(logger)

	if err := p.Start(nil); err != nil {
		return err
	}
	p.Wait()

	p.UpdateStatus()
	logger.Info().Int("jid", p.Jid).Str("status", p.Status().String()).Msg("pipeline finished")

	return nil
}
