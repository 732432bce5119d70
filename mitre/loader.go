package mitre

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// maxBundleSize caps taxonomy seed files to protect against memory exhaustion
const maxBundleSize = 50 * 1024 * 1024 // 50MB

// Loader reads taxonomy bundles from disk for seeding.
type Loader struct {
	logger *zap.SugaredLogger
}

// NewLoader creates a new taxonomy loader
func NewLoader(logger *zap.SugaredLogger) *Loader {
	return &Loader{logger: logger}
}

// LoadBundle reads and validates a taxonomy bundle from a JSON file.
func (l *Loader) LoadBundle(path string) (*Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat taxonomy file: %w", err)
	}
	if info.Size() > maxBundleSize {
		return nil, fmt.Errorf("taxonomy file too large: %d bytes (max %d)", info.Size(), maxBundleSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open taxonomy file: %w", err)
	}
	defer f.Close()

	return l.ParseBundle(f)
}

// ParseBundle decodes and validates a taxonomy bundle from a reader.
func (l *Loader) ParseBundle(r io.Reader) (*Bundle, error) {
	var bundle Bundle
	decoder := json.NewDecoder(io.LimitReader(r, maxBundleSize))
	if err := decoder.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("failed to decode taxonomy bundle: %w", err)
	}

	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("invalid taxonomy bundle: %w", err)
	}

	if l.logger != nil {
		l.logger.Infow("Taxonomy bundle loaded",
			"tactics", len(bundle.Tactics),
			"techniques", len(bundle.Techniques),
			"sub_techniques", len(bundle.SubTechniques),
		)
	}

	return &bundle, nil
}
