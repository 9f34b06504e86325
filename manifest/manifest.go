// Package manifest handles atlas.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/tliron/commonlog"

	"github.com/atlas-lang/atlas/stdlib"
	"github.com/atlas-lang/atlas/vm"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "atlas.toml"

var log = commonlog.GetLogger("atlas.manifest")

// Manifest represents an atlas.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project"`
	VM       VMConfig       `toml:"vm"`
	Debug    DebugConfig    `toml:"debug"`
	Profile  ProfileConfig  `toml:"profile"`
	Security SecurityConfig `toml:"security"`
	Externs  []Extern       `toml:"extern"`

	// Dir is the directory containing the atlas.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"`
}

// VMConfig tunes the virtual machine.
type VMConfig struct {
	StackSize int  `toml:"stack-size"`
	MaxFrames int  `toml:"max-frames"`
	Trace     bool `toml:"trace"`
}

// DebugConfig sets breakpoints and an initial step mode for debug runs.
type DebugConfig struct {
	Breakpoints []int  `toml:"breakpoints"`
	StepMode    string `toml:"step-mode"`
}

// ProfileConfig controls profiling and where reports are stored.
type ProfileConfig struct {
	Enabled  bool   `toml:"enabled"`
	Database string `toml:"database"`
	Top      int    `toml:"top"`
}

// SecurityConfig lists the capabilities granted to programs.
type SecurityConfig struct {
	Allow []string `toml:"allow"`
}

// Extern declares a host function, one [[extern]] table each.
type Extern struct {
	Name    string   `toml:"name"`
	Library string   `toml:"library"`
	Symbol  string   `toml:"symbol"`
	Params  []string `toml:"params"`
	Return  string   `toml:"return"`
}

// Load parses the atlas.toml file in dir, validates it against the
// manifest schema, and applies ATLAS_* overrides from dir/.env and the
// process environment (the environment wins).
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	env, err := readEnv(filepath.Join(m.Dir, ".env"))
	if err != nil {
		return nil, err
	}
	if err := m.applyEnv(env); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.setDefaults()
	log.Debugf("loaded %s (project %q)", path, m.Project.Name)
	return m, nil
}

// Parse decodes and validates manifest text without touching the
// filesystem or the environment. Defaults are not applied.
func Parse(text string) (*Manifest, error) {
	var raw map[string]any
	if _, err := toml.Decode(text, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	var m Manifest
	if _, err := toml.Decode(text, &m); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find an atlas.toml file,
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

func (m *Manifest) setDefaults() {
	if m.Project.Entry == "" {
		m.Project.Entry = "main.atasm"
	}
	if m.Debug.StepMode == "" {
		m.Debug.StepMode = "none"
	}
	if m.Profile.Database == "" {
		m.Profile.Database = filepath.Join(".atlas", "profiles.db")
	}
	if m.Profile.Top == 0 {
		m.Profile.Top = 10
	}
}

// ---------------------------------------------------------------------------
// Environment overrides
// ---------------------------------------------------------------------------

var envKeys = []string{
	"ATLAS_ENTRY",
	"ATLAS_STACK_SIZE",
	"ATLAS_MAX_FRAMES",
	"ATLAS_TRACE",
	"ATLAS_PROFILE",
	"ATLAS_PROFILE_DB",
	"ATLAS_ALLOW",
}

// readEnv merges dir/.env (if present) with the process environment.
func readEnv(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		env = make(map[string]string)
	} else if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env, nil
}

func (m *Manifest) applyEnv(env map[string]string) error {
	for _, k := range envKeys {
		v, ok := env[k]
		if !ok {
			continue
		}
		var err error
		switch k {
		case "ATLAS_ENTRY":
			m.Project.Entry = v
		case "ATLAS_STACK_SIZE":
			m.VM.StackSize, err = parseCount(v, 0)
		case "ATLAS_MAX_FRAMES":
			m.VM.MaxFrames, err = parseCount(v, 1)
		case "ATLAS_TRACE":
			m.VM.Trace, err = strconv.ParseBool(v)
		case "ATLAS_PROFILE":
			m.Profile.Enabled, err = strconv.ParseBool(v)
		case "ATLAS_PROFILE_DB":
			m.Profile.Database = v
		case "ATLAS_ALLOW":
			m.Security.Allow = splitList(v)
		}
		if err != nil {
			return fmt.Errorf("%s=%q: %w", k, v, err)
		}
		log.Debugf("override %s=%s", k, v)
	}
	return nil
}

func parseCount(s string, minimum int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < minimum {
		return 0, fmt.Errorf("must be at least %d", minimum)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// EntryPath returns the absolute path of the entry listing.
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Project.Entry)
}

// ProfileDBPath returns the absolute path of the profile database.
func (m *Manifest) ProfileDBPath() string {
	return m.resolve(m.Profile.Database)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// Policy returns the capability policy granted by [security].
func (m *Manifest) Policy() *stdlib.Policy {
	return stdlib.NewPolicy(m.Security.Allow...)
}

// VMOptions translates [vm] into VM options.
func (m *Manifest) VMOptions() []vm.Option {
	var opts []vm.Option
	if m.VM.StackSize > 0 {
		opts = append(opts, vm.WithStackSize(m.VM.StackSize))
	}
	if m.VM.MaxFrames > 0 {
		opts = append(opts, vm.WithMaxFrames(m.VM.MaxFrames))
	}
	return opts
}

// StepMode returns the configured initial step mode.
func (m *Manifest) StepMode() vm.StepMode {
	switch m.Debug.StepMode {
	case "over":
		return vm.StepOver
	case "into":
		return vm.StepInto
	case "out":
		return vm.StepOut
	}
	return vm.StepNone
}

// ExternDecls converts the [[extern]] tables. A missing symbol defaults to
// the extern's name and a missing return type to void.
func (m *Manifest) ExternDecls() ([]vm.ExternDecl, error) {
	decls := make([]vm.ExternDecl, 0, len(m.Externs))
	for _, e := range m.Externs {
		d := vm.ExternDecl{Name: e.Name, Library: e.Library, Symbol: e.Symbol}
		if d.Symbol == "" {
			d.Symbol = e.Name
		}
		for _, p := range e.Params {
			t, err := vm.ParseCType(p)
			if err != nil {
				return nil, fmt.Errorf("extern %s: %w", e.Name, err)
			}
			d.Params = append(d.Params, t)
		}
		if e.Return != "" {
			t, err := vm.ParseCType(e.Return)
			if err != nil {
				return nil, fmt.Errorf("extern %s: %w", e.Name, err)
			}
			d.Return = t
		}
		decls = append(decls, d)
	}
	return decls, nil
}
