// setup.go - Shared bootstrap for CLI commands

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bosocmputer/lab_report_reconciler/configs"
	"github.com/bosocmputer/lab_report_reconciler/internal/dictionary"
	"github.com/bosocmputer/lab_report_reconciler/internal/logging"
	"github.com/bosocmputer/lab_report_reconciler/internal/ratelimit"
	"github.com/bosocmputer/lab_report_reconciler/internal/storage"
)

// bootstrap loads configuration and installs the logger. heuristicOnly overrides
// EXTRACTOR_PROVIDER so no API key is required.
func bootstrap(heuristicOnly bool) error {
	if heuristicOnly {
		if err := os.Setenv("EXTRACTOR_PROVIDER", "heuristic"); err != nil {
			return err
		}
	}
	configs.LoadConfig()
	if err := logging.Init(configs.LOG_LEVEL, configs.LOG_FORMAT); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	ratelimit.Configure(configs.RATE_LIMIT_RPM, configs.RATE_LIMIT_BURST)
	return nil
}

// loadDictionary reads the configured dictionary, connecting to MongoDB first when
// that is the source. The returned func releases the connection.
func loadDictionary(ctx context.Context) (*dictionary.Dictionary, func(), error) {
	closeFn := func() {}
	if configs.DICTIONARY_SOURCE == "mongo" {
		if err := storage.InitMongoDB(); err != nil {
			return nil, closeFn, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		closeFn = storage.CloseMongoDB
	}

	dict, err := storage.LoadDictionary(ctx, configs.DICTIONARY_SOURCE)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return dict, closeFn, nil
}
