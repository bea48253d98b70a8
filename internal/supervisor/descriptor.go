package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	ErrUnknownEnv        = errors.New("unknown environment")
)

// Defaults applied to fields left out of the descriptor.
const (
	DefaultMaxRestarts = 15
	DefaultMinUptime   = time.Second
	DefaultKillTimeout = 1600 * time.Millisecond
)

const envSetPrefix = "env_"

// Duration accepts integer milliseconds (1600) or Go duration strings ("1.6s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	if ms, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Descriptor is the decoded supervision file. Dir is the directory it was
// loaded from; relative script and cwd values resolve against it.
type Descriptor struct {
	Apps []App  `yaml:"apps"`
	Dir  string `yaml:"-"`
}

// App declares one supervised process. EnvSets holds the env_<name>
// overlays keyed by <name>.
type App struct {
	Name         string                       `yaml:"name"`
	Script       string                       `yaml:"script"`
	Args         []string                     `yaml:"args"`
	Cwd          string                       `yaml:"cwd"`
	Instances    int                          `yaml:"instances"`
	AutoRestart  bool                         `yaml:"-"`
	Watch        bool                         `yaml:"watch"`
	MaxRestarts  int                          `yaml:"-"`
	MinUptime    time.Duration                `yaml:"-"`
	RestartDelay time.Duration                `yaml:"-"`
	KillTimeout  time.Duration                `yaml:"-"`
	Env          map[string]string            `yaml:"env"`
	EnvSets      map[string]map[string]string `yaml:"-"`
}

// UnmarshalYAML applies defaults and collects env_<name> keys.
func (a *App) UnmarshalYAML(n *yaml.Node) error {
	type plain App
	raw := struct {
		plain        `yaml:",inline"`
		AutoRestart  *bool     `yaml:"autorestart"`
		MaxRestarts  *int      `yaml:"max_restarts"`
		MinUptime    *Duration `yaml:"min_uptime"`
		RestartDelay Duration  `yaml:"restart_delay"`
		KillTimeout  *Duration `yaml:"kill_timeout"`
	}{}
	if err := n.Decode(&raw); err != nil {
		return err
	}

	*a = App(raw.plain)
	a.AutoRestart = raw.AutoRestart == nil || *raw.AutoRestart
	a.MaxRestarts = DefaultMaxRestarts
	if raw.MaxRestarts != nil {
		a.MaxRestarts = *raw.MaxRestarts
	}
	a.MinUptime = DefaultMinUptime
	if raw.MinUptime != nil {
		a.MinUptime = time.Duration(*raw.MinUptime)
	}
	a.RestartDelay = time.Duration(raw.RestartDelay)
	a.KillTimeout = DefaultKillTimeout
	if raw.KillTimeout != nil {
		a.KillTimeout = time.Duration(*raw.KillTimeout)
	}
	if a.Instances == 0 {
		a.Instances = 1
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		if !strings.HasPrefix(key, envSetPrefix) || len(key) == len(envSetPrefix) {
			continue
		}
		var set map[string]string
		if err := n.Content[i+1].Decode(&set); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if a.EnvSets == nil {
			a.EnvSets = make(map[string]map[string]string)
		}
		a.EnvSets[strings.TrimPrefix(key, envSetPrefix)] = set
	}
	return nil
}

// Validate reports the first problem with the app declaration.
func (a *App) Validate() error {
	switch {
	case a.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	case a.Script == "":
		return fmt.Errorf("%w: app %q: script is required", ErrInvalidDescriptor, a.Name)
	case a.Instances != 1:
		return fmt.Errorf("%w: app %q: instances must be 1, got %d", ErrInvalidDescriptor, a.Name, a.Instances)
	case a.Watch:
		return fmt.Errorf("%w: app %q: watch mode is not supported", ErrInvalidDescriptor, a.Name)
	case a.MaxRestarts < 0:
		return fmt.Errorf("%w: app %q: max_restarts must not be negative", ErrInvalidDescriptor, a.Name)
	case a.MinUptime < 0 || a.RestartDelay < 0 || a.KillTimeout < 0:
		return fmt.Errorf("%w: app %q: durations must not be negative", ErrInvalidDescriptor, a.Name)
	}
	return nil
}

// Environ returns the child environment: the parent's variables, then env,
// then env_<name>. An empty name selects env alone.
func (a *App) Environ(parent []string, name string) ([]string, error) {
	merged := make(map[string]string, len(parent)+len(a.Env))
	for _, kv := range parent {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		merged[k] = v
	}
	for k, v := range a.Env {
		merged[k] = v
	}
	if name != "" {
		set, ok := a.EnvSets[name]
		if !ok {
			return nil, fmt.Errorf("%w %q for app %q", ErrUnknownEnv, name, a.Name)
		}
		for k, v := range set {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env, nil
}

// ParseDescriptor decodes and validates descriptor YAML.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if len(d.Apps) == 0 {
		return nil, fmt.Errorf("%w: no apps declared", ErrInvalidDescriptor)
	}
	for i := range d.Apps {
		if err := d.Apps[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

// LoadDescriptor reads and parses the descriptor at path.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve descriptor dir: %w", err)
	}
	d.Dir = abs
	return d, nil
}

// App returns the app with the given name, or the first app when name is empty.
func (d *Descriptor) App(name string) (App, bool) {
	if name == "" {
		return d.Apps[0], true
	}
	for _, a := range d.Apps {
		if a.Name == name {
			return a, true
		}
	}
	return App{}, false
}
