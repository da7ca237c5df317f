package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/stacker/pkg/cloud"
	"github.com/openfroyo/stacker/pkg/cloud/fake"
	"github.com/openfroyo/stacker/pkg/config"
	"github.com/openfroyo/stacker/pkg/engine"
	"github.com/openfroyo/stacker/pkg/resources"
	"github.com/openfroyo/stacker/pkg/scheduler"
	"github.com/openfroyo/stacker/pkg/stores"
	"github.com/openfroyo/stacker/pkg/telemetry"
	"github.com/openfroyo/stacker/pkg/template"
)

// environment holds what every stack command needs: configuration,
// telemetry, the store and the services handed to resources.
type environment struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	store    stores.Store
	services engine.Services
	registry *engine.Registry
}

func newEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if !cfg.Cloud.Simulate {
		return nil, errors.New("no cloud client is available: set cloud.simulate to true")
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	fetcher, err := cfg.Fetcher(tel.Logger.NewComponentLogger("urlfetch"))
	if err != nil {
		return nil, err
	}

	store, err := cfg.Store.OpenStore(ctx)
	if err != nil {
		return nil, err
	}

	return &environment{
		cfg:   cfg,
		tel:   tel,
		store: store,
		services: engine.Services{
			Cloud:         cloud.Instrument(fake.New(), tel),
			Templates:     fetcher,
			Store:         store,
			Telemetry:     tel,
			RunnerOptions: cfg.RunnerOptions(nil, tel.Metrics),
		},
		registry: resources.NewRegistry(),
	}, nil
}

func (e *environment) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush traces")
	}
	if err := e.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
}

// newStack builds a stack from the template at path. A stack recorded under
// the same name keeps its id so its event history continues.
func (e *environment) newStack(ctx context.Context, name, path string, params map[string]string) (*engine.Stack, error) {
	tmpl, err := readTemplate(path)
	if err != nil {
		return nil, err
	}

	var id string
	if rec, err := e.store.GetStack(ctx, name); err == nil {
		id = rec.ID
	} else if !errors.Is(err, stores.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up stack %s: %w", name, err)
	}

	return engine.NewStack(name, tmpl, params, engine.StackOptions{
		ID:       id,
		Registry: e.registry,
		Services: e.services,
		Region:   e.cfg.Cloud.Region,
		Timeout:  e.cfg.Scheduler.Timeout,
	})
}

// runAction drives a stack task to completion. A positive timeout overrides
// the configured one. An action abandoned by the runner, for example on
// timeout, is marked failed.
func (e *environment) runAction(ctx context.Context, s *engine.Stack, task scheduler.Task, timeout time.Duration) error {
	err := s.NewRunner(task, timeout).RunToCompletion(ctx, 0)
	if err != nil {
		s.MarkFailed(context.WithoutCancel(ctx), err)
	}
	log.Info().
		Str("stack", s.Name()).
		Str("state", s.State().String()).
		Msg("Stack action finished")
	return err
}

// serve runs fn next to the metrics server until fn returns or ctx is
// cancelled.
func (e *environment) serve(ctx context.Context, fn func(ctx context.Context) error) error {
	var g run.Group

	// Command.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return fn(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Metrics server.
	if srv := e.tel.Metrics.NewServer(); srv != nil {
		g.Add(
			func() error {
				log.Info().Str("addr", srv.Addr).Msg("Serving metrics")
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			func(_ error) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			},
		)
	}

	return g.Run()
}

func readTemplate(path string) (*template.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	tmpl, err := template.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
	}
	return tmpl, nil
}

func printOutputs(ctx context.Context, w io.Writer, s *engine.Stack) error {
	outputs, err := s.Outputs(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(outputs)
	}
	for _, key := range slices.Sorted(maps.Keys(outputs)) {
		fmt.Fprintf(w, "%s\t%v\n", key, outputs[key])
	}
	return nil
}
