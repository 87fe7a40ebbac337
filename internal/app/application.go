// Package app wires configuration, logging and the scan components into the
// local, master and worker run modes.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raysh454/fatt/internal/distributed"
	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/model"
	"github.com/raysh454/fatt/internal/utils"
)

// Application is the runtime state shared by every command. Pass it to the
// run modes rather than using package-level variables.
type Application struct {
	Config *Config
	Logger logging.Logger

	// Progress, when set, receives engine progress while RunScan runs and
	// once more when it finishes.
	Progress func(model.Progress)
}

const progressPollInterval = 200 * time.Millisecond

func NewApplication(cfg *Config, logger logging.Logger) *Application {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Application{Config: cfg, Logger: logger}
}

// RunScan scans the configured domain list locally and stores findings.
func (a *Application) RunScan(ctx context.Context) (*model.ScanSummary, error) {
	if a == nil {
		return nil, errors.New("application is nil")
	}
	if err := a.Config.Validate(); err != nil {
		return nil, err
	}
	if err := a.Config.ValidateScanInputs(); err != nil {
		return nil, err
	}

	domains, err := utils.ReadDomains(a.Config.InputPath)
	if err != nil {
		return nil, fmt.Errorf("read domains: %w", err)
	}

	sc, err := NewScanComponents(a.Config, true, a.Logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sc.Close(); err != nil {
			a.Logger.Warn("closing scan components", logging.Field{Key: "error", Value: err.Error()})
		}
	}()

	a.Logger.Info("scan configured",
		logging.Field{Key: "input", Value: a.Config.InputPath},
		logging.Field{Key: "rules", Value: sc.Rules.Len()},
		logging.Field{Key: "domains", Value: len(domains)},
		logging.Field{Key: "db", Value: a.Config.Store.Path})

	if a.Progress == nil {
		return sc.Engine.Run(ctx, domains)
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(progressPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				a.Progress(sc.Engine.Progress())
			}
		}
	}()
	sum, err := sc.Engine.Run(ctx, domains)
	close(done)
	<-stopped
	a.Progress(sc.Engine.Progress())
	return sum, err
}

// RunWorker connects to the configured master and scans the batches it
// sends until the master shuts it down or ctx is done.
func (a *Application) RunWorker(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	if err := a.Config.Validate(); err != nil {
		return err
	}

	sc, err := NewScanComponents(a.Config, false, a.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sc.Close(); err != nil {
			a.Logger.Warn("closing scan components", logging.Field{Key: "error", Value: err.Error()})
		}
	}()

	w, err := distributed.NewWorker(a.Config.Worker, sc.Engine, a.Logger)
	if err != nil {
		return err
	}
	a.Logger.Info("worker starting",
		logging.Field{Key: "worker", Value: w.ID()},
		logging.Field{Key: "master", Value: a.Config.Worker.MasterAddr},
		logging.Field{Key: "rules", Value: sc.Rules.Len()})
	return w.Run(ctx)
}
