package app

import (
	"errors"
	"fmt"

	"github.com/raysh454/fatt/internal/logging"
	"github.com/raysh454/fatt/internal/resolver"
	"github.com/raysh454/fatt/internal/rules"
	"github.com/raysh454/fatt/internal/scanner"
	"github.com/raysh454/fatt/internal/store"
	"github.com/raysh454/fatt/internal/webclient"
)

// ScanComponents are the collaborators of one scan engine.
type ScanComponents struct {
	Rules     *rules.RuleSet
	Resolver  *resolver.Resolver
	WebClient *webclient.NetHTTPClient
	Store     *store.SQLiteStore
	Engine    *scanner.Engine
}

// NewScanComponents loads rules and opens the resolver, web client and,
// when withStore is set, the findings store. Workers build without a store
// because their findings go back to the master.
func NewScanComponents(cfg *Config, withStore bool, logger logging.Logger) (*ScanComponents, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	rs, err := rules.Load(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	sc := &ScanComponents{Rules: rs}

	sc.Resolver, err = resolver.Open(cfg.ResolverConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("open dns cache: %w", err)
	}

	sc.WebClient, err = webclient.NewNetHTTPClient(cfg.WebClient, logger, nil)
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("new webclient: %w", err)
	}

	var writer scanner.FindingWriter
	if withStore {
		sc.Store, err = store.Open(cfg.Store, logger)
		if err != nil {
			sc.Close()
			return nil, fmt.Errorf("open findings store: %w", err)
		}
		writer = sc.Store
	}

	sc.Engine, err = scanner.New(cfg.Scanner, sc.Resolver, sc.WebClient, writer, rs, logger)
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("new scan engine: %w", err)
	}
	return sc, nil
}

// Close releases every opened component.
func (sc *ScanComponents) Close() error {
	var errs []error
	if sc.WebClient != nil {
		errs = append(errs, sc.WebClient.Close())
	}
	if sc.Store != nil {
		errs = append(errs, sc.Store.Close())
	}
	if sc.Resolver != nil {
		errs = append(errs, sc.Resolver.Close())
	}
	return errors.Join(errs...)
}
