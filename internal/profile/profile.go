// Package profile persists named project configurations, so a single
// bmadloop install can drive several BMAD projects without repeating
// path flags.
package profile

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"bmadloop/internal/config"
	"bmadloop/internal/errs"
)

// Profile is a stored set of configuration overrides. Zero values leave
// the corresponding config field untouched.
type Profile struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description,omitempty"`
	WorkingDir       string `yaml:"working_dir,omitempty"`
	SprintStatusPath string `yaml:"sprint_status_path,omitempty"`
	StoryDir         string `yaml:"story_dir,omitempty"`
	AssistantCommand string `yaml:"assistant,omitempty"`
	Timeout          int    `yaml:"timeout,omitempty"`
	DeepTimeout      int    `yaml:"deep_timeout,omitempty"`
	MaxAttempts      int    `yaml:"max_attempts,omitempty"`
	APIPort          int    `yaml:"api_port,omitempty"`
}

// Apply overlays the profile's non-zero fields onto the config.
func (p *Profile) Apply(cfg *config.Config) {
	if p.WorkingDir != "" {
		cfg.WorkingDir = p.WorkingDir
		cfg.SprintStatusPath = filepath.Join(p.WorkingDir, config.DefaultSprintStatus)
		cfg.StoryDir = filepath.Join(p.WorkingDir, config.DefaultStoryDir)
		cfg.DataDir = filepath.Join(p.WorkingDir, config.DefaultDataDir)
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "bmadloop.db")
	}
	if p.SprintStatusPath != "" {
		cfg.SprintStatusPath = p.SprintStatusPath
	}
	if p.StoryDir != "" {
		cfg.StoryDir = p.StoryDir
	}
	if p.AssistantCommand != "" {
		cfg.AssistantCommand = p.AssistantCommand
	}
	if p.Timeout > 0 {
		cfg.Timeout = p.Timeout
	}
	if p.DeepTimeout > 0 {
		cfg.DeepTimeout = p.DeepTimeout
	}
	if p.MaxAttempts > 0 {
		cfg.MaxAttempts = p.MaxAttempts
	}
	if p.APIPort > 0 {
		cfg.APIPort = p.APIPort
	}
}

// Store manages profile files under <dir>/profiles.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the data directory.
func NewStore(dataDir string) *Store {
	return &Store{dir: filepath.Join(dataDir, "profiles")}
}

// validateName rejects names that would escape the profile directory.
func validateName(name string) error {
	if name == "" {
		return errs.New(errs.EUsage, "profile name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || strings.HasPrefix(name, ".") {
		return errs.Newf(errs.EUsage, "invalid profile name %q", name)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

// Load reads one profile by name.
func (s *Store) Load(name string) (*Profile, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Newf(errs.ENotFound, "profile %q not found", name)
		}
		return nil, errs.Wrap(errs.EInternal, "reading profile", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errs.Wrap(errs.EStoreCorrupt, "parsing profile "+name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return &p, nil
}

// Save writes a profile to disk.
func (s *Store) Save(p *Profile) error {
	if err := validateName(p.Name); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errs.Wrap(errs.EPersistFailed, "creating profile directory", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return errs.Wrap(errs.EInternal, "encoding profile", err)
	}
	if err := os.WriteFile(s.path(p.Name), data, 0644); err != nil {
		return errs.Wrap(errs.EPersistFailed, "writing profile", err)
	}
	return nil
}

// Delete removes a profile; deleting a missing profile is not an error.
func (s *Store) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.EPersistFailed, "deleting profile", err)
	}
	return nil
}

// List returns the stored profile names, sorted by filename.
func (s *Store) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.yaml"))
	if err != nil {
		return nil, errs.Wrap(errs.EInternal, "listing profiles", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".yaml"))
	}
	return names, nil
}
