// Package mode decides whether repository operations run through the git
// executable or through the GitHub API.
package mode

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/backend"
	"github.com/kilupskalvis/repodeploy/internal/models"
)

// Settings keys persisted in the state store.
const (
	KeyMode      = "git_mode"
	KeyReason    = "git_mode_reason"
	KeyForceMode = "force_mode"
)

// KV is the persisted settings store.
type KV interface {
	GetValue(key string) (string, error)
	SetValues(values map[string]string) error
	DeleteValues(keys ...string) error
}

// Selector caches environment detection and applies the operator override.
type Selector struct {
	kv          KV
	runner      backend.Runner
	disableExec bool
	fallback    models.ForceMode
	logger      *zap.Logger

	mu sync.Mutex
}

// NewSelector returns a selector. fallback is the configured override used
// when none has been stored with Force.
func NewSelector(kv KV, runner backend.Runner, disableExec bool, fallback models.ForceMode, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallback == "" {
		fallback = models.ForceAuto
	}
	return &Selector{kv: kv, runner: runner, disableExec: disableExec, fallback: fallback, logger: logger}
}

// Detect probes the environment, persists the outcome and returns it.
func (s *Selector) Detect(ctx context.Context) (models.Mode, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectLocked(ctx)
}

func (s *Selector) detectLocked(ctx context.Context) (models.Mode, string, error) {
	mode, reason := s.probe(ctx)
	err := s.kv.SetValues(map[string]string{
		KeyMode:   string(mode),
		KeyReason: reason,
	})
	if err != nil {
		return "", "", fmt.Errorf("persist detected mode: %w", err)
	}
	s.logger.Info("detected git mode", zap.String("mode", string(mode)), zap.String("reason", reason))
	return mode, reason, nil
}

func (s *Selector) probe(ctx context.Context) (models.Mode, string) {
	if s.disableExec || s.runner == nil {
		return models.ModeAPI, "Process execution disabled by configuration"
	}
	if _, err := s.runner.LookPath("git"); err != nil {
		return models.ModeAPI, "Git executable not found"
	}
	version, err := backend.GitVersion(ctx, s.runner)
	if err != nil {
		return models.ModeAPI, "Git command failed: " + err.Error()
	}
	return models.ModeCLI, "Git CLI available: " + version
}

// Mode returns the mode to use. A non-auto override is returned verbatim
// without probing; otherwise the cached detection is used, running it once
// if needed.
func (s *Selector) Mode(ctx context.Context) (models.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	override, err := s.overrideLocked()
	if err != nil {
		return "", err
	}
	if override != models.ForceAuto {
		return models.Mode(override), nil
	}

	cached, err := s.kv.GetValue(KeyMode)
	if err != nil {
		return "", err
	}
	if m := models.Mode(cached); m == models.ModeCLI || m == models.ModeAPI {
		return m, nil
	}

	mode, _, err := s.detectLocked(ctx)
	return mode, err
}

// Override returns the active override.
func (s *Selector) Override() (models.ForceMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrideLocked()
}

func (s *Selector) overrideLocked() (models.ForceMode, error) {
	stored, err := s.kv.GetValue(KeyForceMode)
	if err != nil {
		return "", err
	}
	if stored == "" {
		return s.fallback, nil
	}
	m, ok := models.ParseForceMode(stored)
	if !ok {
		return s.fallback, nil
	}
	return m, nil
}

// Force stores an override. ForceAuto restores detection.
func (s *Selector) Force(m models.ForceMode) error {
	if _, ok := models.ParseForceMode(string(m)); !ok {
		return fmt.Errorf("invalid mode %q (must be auto, cli or api)", m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.SetValues(map[string]string{KeyForceMode: string(m)})
}

// Reason returns the persisted explanation of the last detection.
func (s *Selector) Reason() (string, error) {
	return s.kv.GetValue(KeyReason)
}

// Reset drops the cached detection so the next Mode call probes again.
func (s *Selector) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.DeleteValues(KeyMode, KeyReason)
}
