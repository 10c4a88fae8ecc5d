package main

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/jihwankim/vesper-verify/pkg/config"
	"github.com/jihwankim/vesper-verify/pkg/core/orchestrator"
	"github.com/jihwankim/vesper-verify/pkg/emergency"
	"github.com/jihwankim/vesper-verify/pkg/reporting"
	"github.com/jihwankim/vesper-verify/pkg/runtime"
	"github.com/jihwankim/vesper-verify/pkg/value"
)

// loadFrameworkConfig loads the YAML config at cfgFile (./vesper.yaml
// when the flag is empty), falling back to config.DefaultConfig when
// that file does not exist (config.Load tolerates a missing file).
func loadFrameworkConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *reporting.Logger {
	level := reporting.LogLevel(cfg.Framework.LogLevel)
	if verbose {
		level = reporting.LogLevelDebug
	}
	return reporting.NewLogger(reporting.LoggerConfig{
		Level:  level,
		Format: reporting.LogFormat(cfg.Framework.LogFormat),
		Output: os.Stdout,
	})
}

// demoHandlers registers an echo oracle handler and a candidate handler
// that passes every field through unchanged except it rounds floats to
// two decimal places, a deliberately imperfect candidate so `verify`
// has something to compare against out of the box. A real deployment
// registers its own oracle/candidate handlers instead of calling this.
func demoHandlers(nodeID string) (*runtime.HandlerRegistry, *runtime.HandlerRegistry) {
	oracle := runtime.NewHandlerRegistry()
	candidate := runtime.NewHandlerRegistry()

	oracle.RegisterHandler(nodeID, func(_ context.Context, input value.Map) (value.Map, error) {
		return input, nil
	})
	candidate.RegisterHandler(nodeID, func(_ context.Context, input value.Map) (value.Map, error) {
		out := make(value.Map, len(input))
		for k, v := range input {
			if f, ok := v.AsFloat(); ok {
				v = value.Float(math.Round(f*100) / 100)
			}
			out[k] = v
		}
		return out, nil
	})

	return oracle, candidate
}

func buildOrchestrator(ctx context.Context, cfg *config.Config, nodeID string) (*orchestrator.Orchestrator, error) {
	oracle, candidate := demoHandlers(nodeID)
	orch, err := orchestrator.NewFromConfig(cfg, oracle, candidate)
	if err != nil {
		return nil, err
	}

	controller := emergency.New(emergency.Config{
		StopFile:             cfg.Emergency.StopFile,
		PollInterval:         cfg.Emergency.PollInterval,
		EnableSignalHandlers: cfg.Emergency.EnableSignalHandlers,
	})
	controller.FreezeOnStop(orch.Router())
	controller.Start(ctx)

	return orch, nil
}
