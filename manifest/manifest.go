// Package manifest handles slotvm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the project file.
const FileName = "slotvm.toml"

// Manifest represents a slotvm.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Run     RunConfig   `toml:"run"`
	Image   ImageConfig `toml:"image"`
	Log     LogConfig   `toml:"log"`

	// Dir is the directory containing the slotvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

// RunConfig configures execution.
type RunConfig struct {
	Trace    bool   `toml:"trace"`
	MaxSteps int    `toml:"max-steps"`
	Stdin    string `toml:"stdin"`
}

// ImageConfig configures image output.
type ImageConfig struct {
	Output string `toml:"output"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Load parses a slotvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Project.Entry == "" {
		m.Project.Entry = "main.sasm"
	}
	if m.Run.MaxSteps < 0 {
		return nil, fmt.Errorf("%s: run.max-steps must not be negative", path)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a slotvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// EntryPath returns the absolute path of the entry program.
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Project.Entry)
}

// ImagePath returns the absolute image output path, or "" if unset.
func (m *Manifest) ImagePath() string {
	return m.resolve(m.Image.Output)
}

// StdinPath returns the absolute path of the configured input file, or "".
func (m *Manifest) StdinPath() string {
	return m.resolve(m.Run.Stdin)
}

// LogPath returns the absolute path of the log file, or "" for stderr.
func (m *Manifest) LogPath() string {
	return m.resolve(m.Log.File)
}
