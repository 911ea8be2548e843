// Package prefs persists client-local preferences in a YAML state file.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const keyOnboardingCompleted = "onboarding_completed"

var errMissingPath = errors.New("prefs: state file path is required")

// FileFlagStore keeps the onboarding flag in a YAML file. It is safe for
// concurrent use within one process.
type FileFlagStore struct {
	path string
	mu   sync.Mutex
}

func NewFileFlagStore(path string) (*FileFlagStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errMissingPath
	}
	return &FileFlagStore{path: path}, nil
}

// Path returns the backing file location.
func (s *FileFlagStore) Path() string {
	return s.path
}

// OnboardingCompleted reports the persisted flag. A missing file means false.
func (s *FileFlagStore) OnboardingCompleted() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return false, err
	}
	return state.GetBool(keyOnboardingCompleted), nil
}

// MarkOnboardingCompleted sets the flag and rewrites the file.
func (s *FileFlagStore) MarkOnboardingCompleted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.read()
	if err != nil {
		return err
	}
	state.Set(keyOnboardingCompleted, true)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("prefs: create state directory: %w", err)
	}
	if err := state.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("prefs: write %s: %w", s.path, err)
	}
	return nil
}

func (s *FileFlagStore) read() (*viper.Viper, error) {
	state := viper.New()
	state.SetConfigFile(s.path)
	state.SetConfigType("yaml")
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err := state.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("prefs: read %s: %w", s.path, err)
	}
	return state, nil
}
