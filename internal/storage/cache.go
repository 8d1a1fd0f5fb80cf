// cache.go - Process-wide dictionary, loaded once and read-only afterwards

package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bosocmputer/lab_report_reconciler/configs"
	"github.com/bosocmputer/lab_report_reconciler/internal/dictionary"
	"github.com/bosocmputer/lab_report_reconciler/internal/logging"
	"go.uber.org/zap"
)

var (
	dictOnce   sync.Once
	dictShared *dictionary.Dictionary
	dictErr    error
)

// GetDictionary loads the configured dictionary on first use and returns the same
// instance to every caller afterwards. A failed load is not retried.
func GetDictionary(ctx context.Context) (*dictionary.Dictionary, error) {
	dictOnce.Do(func() {
		dictShared, dictErr = LoadDictionary(ctx, configs.DICTIONARY_SOURCE)
	})
	return dictShared, dictErr
}

// LoadDictionary builds a dictionary from "file" (DICTIONARY_PATH) or "mongo"
// (MONGO_DICTIONARY_COLLECTION). The mongo source expects InitMongoDB to have run.
func LoadDictionary(ctx context.Context, source string) (*dictionary.Dictionary, error) {
	start := time.Now()

	var names []string
	var err error
	switch source {
	case "file", "":
		names, err = LoadDictionaryFile(configs.DICTIONARY_PATH, configs.DICTIONARY_NAME_COLUMN)
	case "mongo":
		names, err = GetDictionaryNames(ctx, configs.MONGO_DICTIONARY_COLLECTION)
	default:
		err = fmt.Errorf("unsupported dictionary source: %s (supported: file, mongo)", source)
	}
	if err != nil {
		return nil, err
	}

	dict := dictionary.New(names)
	logging.L().Info("📚 Dictionary loaded",
		zap.String("source", source),
		zap.Int("names", dict.Len()),
		zap.Int("heart", len(dict.Heart())),
		zap.Int("urine", len(dict.Urine())),
		zap.Int("other", len(dict.OtherFluid())),
		zap.Int("blood", len(dict.Blood())),
		zap.Duration("elapsed", time.Since(start)),
	)
	return dict, nil
}

// LoadDictionaryFile reads a JSON or tab-delimited dictionary file.
func LoadDictionaryFile(path string, column int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary file: %w", err)
	}
	names, err := dictionary.ParseNames(data, column)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return names, nil
}
