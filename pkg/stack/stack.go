package stack

import (
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultStackFilename = "stack.yaml"

// Condition gates a dependency edge. "service_started" is satisfied as soon
// as the target process is launched; "service_healthy" requires the target's
// health probe to have passed.
type Condition string

const (
	ConditionStarted Condition = "service_started"
	ConditionHealthy Condition = "service_healthy"
)

type File struct {
	Name     string             `yaml:"name,omitempty"`
	Services map[string]Service `yaml:"services"`
}

type Service struct {
	Image string `yaml:"image,omitempty"`
	// Command is the argv of an exec service, or the container command
	// override when an image is set.
	Command     []string          `yaml:"command,omitempty"`
	Cwd         string            `yaml:"cwd,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty"`
	EnvFile     StringList        `yaml:"env_file,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
	Ports       []string          `yaml:"ports,omitempty"`
	Restart     string            `yaml:"restart,omitempty"` // "no" | "always"
	Health      *HealthCheck      `yaml:"healthcheck,omitempty"`
	DependsOn   DependsOn         `yaml:"depends_on,omitempty"`
}

type HealthCheck struct {
	Type        string   `yaml:"type"` // "http" | "tcp" | "cmd"
	URL         string   `yaml:"url,omitempty"`
	Address     string   `yaml:"address,omitempty"`
	Command     []string `yaml:"command,omitempty"`
	Interval    Duration `yaml:"interval,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty"`
	Retries     int      `yaml:"retries,omitempty"`
	StartPeriod Duration `yaml:"start_period,omitempty"`
}

// DependsOn accepts both the short list form
//
//	depends_on: [broker, storage]
//
// (every entry gated on service_started) and the long map form
//
//	depends_on:
//	  search:
//	    condition: service_healthy
type DependsOn map[string]Condition

func (d *DependsOn) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return errors.Wrap(err, "decode depends_on list")
		}
		out := make(DependsOn, len(names))
		for _, n := range names {
			out[n] = ConditionStarted
		}
		*d = out
		return nil
	case yaml.MappingNode:
		var long map[string]struct {
			Condition Condition `yaml:"condition"`
		}
		if err := node.Decode(&long); err != nil {
			return errors.Wrap(err, "decode depends_on map")
		}
		out := make(DependsOn, len(long))
		for n, v := range long {
			c := v.Condition
			if c == "" {
				c = ConditionStarted
			}
			out[n] = c
		}
		*d = out
		return nil
	default:
		return errors.New("depends_on must be a list or a map")
	}
}

// StringList accepts either a single scalar or a sequence of scalars.
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var out []string
	if err := node.Decode(&out); err != nil {
		return err
	}
	*l = out
	return nil
}

// Duration parses "5s", "1m30s" style values from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return errors.Wrap(err, "decode duration")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parse duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read stack file")
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "parse stack yaml")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate rejects descriptors the orchestrator cannot act on: services with
// neither an image nor a command, dependency edges pointing at unknown
// services, bad conditions, and nonpositive probe budgets.
func (f *File) Validate() error {
	if len(f.Services) == 0 {
		return errors.New("stack declares no services")
	}
	for name, svc := range f.Services {
		if svc.Image == "" && len(svc.Command) == 0 {
			return errors.Errorf("service %q needs an image or a command", name)
		}
		switch svc.Restart {
		case "", "no", "always":
		default:
			return errors.Errorf("service %q: unsupported restart policy %q", name, svc.Restart)
		}
		for target, cond := range svc.DependsOn {
			if _, ok := f.Services[target]; !ok {
				return errors.Errorf("service %q depends on unknown service %q", name, target)
			}
			if target == name {
				return errors.Errorf("service %q depends on itself", name)
			}
			if cond != ConditionStarted && cond != ConditionHealthy {
				return errors.Errorf("service %q: unknown depends_on condition %q", name, cond)
			}
		}
		if err := validateHealth(name, svc.Health); err != nil {
			return err
		}
	}
	return nil
}

func validateHealth(name string, h *HealthCheck) error {
	if h == nil {
		return nil
	}
	switch h.Type {
	case "http":
		if h.URL == "" {
			return errors.Errorf("service %q: http healthcheck missing url", name)
		}
	case "tcp":
		if h.Address == "" {
			return errors.Errorf("service %q: tcp healthcheck missing address", name)
		}
	case "cmd":
		if len(h.Command) == 0 {
			return errors.Errorf("service %q: cmd healthcheck missing command", name)
		}
	default:
		return errors.Errorf("service %q: unsupported healthcheck type %q", name, h.Type)
	}
	if h.Interval < 0 || h.Timeout < 0 || h.StartPeriod < 0 {
		return errors.Errorf("service %q: healthcheck durations must be >= 0", name)
	}
	if h.Retries < 0 {
		return errors.Errorf("service %q: healthcheck retries must be >= 0", name)
	}
	return nil
}

// ServiceNames returns the declared service names in sorted order.
func (f *File) ServiceNames() []string {
	names := make([]string, 0, len(f.Services))
	for n := range f.Services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
