package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/averender/webrun/internal/extract"
)

// Config is the root description of one automation run. It is immutable once
// loaded. Documents may be JSON or YAML; YAML is a superset of JSON so both
// parse through the same path.
type Config struct {
	URL                      string   `yaml:"url"`
	Headless                 *bool    `yaml:"headless,omitempty"`
	DefaultTimeout           int      `yaml:"defaultTimeout,omitempty"`           // ms
	DefaultNavigationTimeout int      `yaml:"defaultNavigationTimeout,omitempty"` // ms
	MaxPages                 int      `yaml:"maxPages,omitempty"`
	KeepOpenAfter            KeepOpen `yaml:"keepOpenAfter,omitempty"`
	Steps                    []Step   `yaml:"steps"`
}

// IsHeadless reports the headless flag, defaulting to true when the document
// leaves it unset.
func (c *Config) IsHeadless() bool {
	if c.Headless == nil {
		return true
	}
	return *c.Headless
}

// Timeout is the default deadline for element resolution and waits.
func (c *Config) Timeout() time.Duration {
	if c.DefaultTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.DefaultTimeout) * time.Millisecond
}

// NavigationTimeout is the default deadline for navigations.
func (c *Config) NavigationTimeout() time.Duration {
	if c.DefaultNavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.DefaultNavigationTimeout) * time.Millisecond
}

// KeepOpen is the keepOpenAfter field: false (or 0, or absent) closes the
// browser session as soon as the run finishes; a positive integer schedules
// the close that many milliseconds later.
type KeepOpen struct {
	After time.Duration
}

func (k *KeepOpen) UnmarshalYAML(value *yaml.Node) error {
	var b bool
	if err := value.Decode(&b); err == nil {
		if b {
			return errors.New("keepOpenAfter: true is not a duration, use milliseconds")
		}
		k.After = 0
		return nil
	}
	var ms int
	if err := value.Decode(&ms); err != nil {
		return fmt.Errorf("keepOpenAfter: want false or milliseconds: %w", err)
	}
	if ms < 0 {
		return errors.New("keepOpenAfter: must not be negative")
	}
	k.After = time.Duration(ms) * time.Millisecond
	return nil
}

// ActionKind is a step's action discriminator.
type ActionKind string

const (
	ActionClick      ActionKind = "click"
	ActionType       ActionKind = "type"
	ActionGo         ActionKind = "go"
	ActionWait       ActionKind = "wait"
	ActionScrape     ActionKind = "scrape"
	ActionScreenshot ActionKind = "screenshot"
	ActionRepeat     ActionKind = "repeat"
	ActionCrawl      ActionKind = "crawl"
)

var actionKinds = map[ActionKind]bool{
	ActionClick:      true,
	ActionType:       true,
	ActionGo:         true,
	ActionWait:       true,
	ActionScrape:     true,
	ActionScreenshot: true,
	ActionRepeat:     true,
	ActionCrawl:      true,
}

// Step is one declarative unit of browser interaction or control flow. It is
// a tagged variant over Action; only the fields belonging to the action kind
// are consulted. Step trees are acyclic and never mutated during execution.
type Step struct {
	Action   ActionKind `yaml:"action"`
	Selector string     `yaml:"selector,omitempty"`
	XPath    string     `yaml:"xpath,omitempty"`

	// type
	Text  string `yaml:"text,omitempty"`
	Delay int    `yaml:"delay,omitempty"` // ms between typed characters

	// go: a URL, or "back" / "forward"
	URL string `yaml:"url,omitempty"`

	// wait, and the optional inline wait raced with a click
	Wait    *WaitCondition `yaml:"wait,omitempty"`
	WaitFor *WaitCondition `yaml:"waitFor,omitempty"`

	// scrape / screenshot; Output may carry the $i index token
	Scrape *extract.Spec `yaml:"scrape,omitempty"`
	Output string        `yaml:"output,omitempty"`

	// repeat
	Times int `yaml:"times,omitempty"`

	// crawl
	Attribute string `yaml:"attribute,omitempty"`

	// repeat / crawl sub-steps
	Steps []Step `yaml:"steps,omitempty"`
}

// Target reports whether the step names an element target.
func (s *Step) Target() bool {
	return s.Selector != "" || s.XPath != ""
}

// WaitKind names a declarative wait condition.
type WaitKind string

const (
	WaitNavigation  WaitKind = "navigation"
	WaitNetworkIdle WaitKind = "network-idle"
	WaitSelector    WaitKind = "selector"
	WaitXPath       WaitKind = "xpath"
	WaitTimeout     WaitKind = "timeout"
	WaitRequest     WaitKind = "request"
	WaitResponse    WaitKind = "response"
	WaitFunction    WaitKind = "function"
)

// WaitKinds lists every supported wait condition kind.
func WaitKinds() []WaitKind {
	return []WaitKind{
		WaitNavigation, WaitNetworkIdle, WaitSelector, WaitXPath,
		WaitTimeout, WaitRequest, WaitResponse, WaitFunction,
	}
}

var waitKinds = func() map[WaitKind]bool {
	m := make(map[WaitKind]bool)
	for _, k := range WaitKinds() {
		m[k] = true
	}
	return m
}()

// WaitCondition describes one suspension: what to wait for plus the options
// the condition needs. It unmarshals from either a bare scalar shorthand
// ("navigation") or a full mapping.
type WaitCondition struct {
	For      WaitKind `yaml:"for"`
	Selector string   `yaml:"selector,omitempty"`
	XPath    string   `yaml:"xpath,omitempty"`
	Timeout  int      `yaml:"timeout,omitempty"` // ms; the duration itself for "timeout", an upper bound otherwise
	URL      string   `yaml:"url,omitempty"`     // substring matched against request/response URLs
	Script   string   `yaml:"script,omitempty"`  // predicate for "function"
}

func (w *WaitCondition) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var kind string
		if err := value.Decode(&kind); err != nil {
			return err
		}
		w.For = WaitKind(kind)
		return nil
	}
	type plain WaitCondition
	return value.Decode((*plain)(w))
}

// Load reads and validates a config document. Any error here is fatal to the
// run; nothing has touched a browser yet.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a config document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configuration errors up front: unknown actions, unknown
// wait kinds, malformed extraction specs, missing per-action fields.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("missing 'url'")
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("maxPages must be >= 1, got %d", c.MaxPages)
	}
	if len(c.Steps) == 0 {
		return errors.New("missing 'steps'")
	}
	return validateSteps(c.Steps, "steps")
}

func validateSteps(steps []Step, path string) error {
	for i := range steps {
		if err := validateStep(&steps[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s *Step, path string) error {
	if !actionKinds[s.Action] {
		return fmt.Errorf("%s: unknown action %q", path, s.Action)
	}
	switch s.Action {
	case ActionClick:
		if !s.Target() {
			return fmt.Errorf("%s: click needs a selector or xpath", path)
		}
		if s.WaitFor != nil {
			if err := validateWait(s.WaitFor, path+".waitFor"); err != nil {
				return err
			}
		}
	case ActionType:
		if !s.Target() {
			return fmt.Errorf("%s: type needs a selector or xpath", path)
		}
	case ActionGo:
		if s.URL == "" {
			return fmt.Errorf("%s: go needs a url (or \"back\"/\"forward\")", path)
		}
	case ActionWait:
		if s.Wait == nil {
			return fmt.Errorf("%s: wait needs a condition", path)
		}
		return validateWait(s.Wait, path+".wait")
	case ActionScrape:
		if s.Scrape == nil || len(s.Scrape.Entries) == 0 {
			return fmt.Errorf("%s: scrape needs a non-empty extraction spec", path)
		}
		if s.Output == "" {
			return fmt.Errorf("%s: scrape needs an output path", path)
		}
		if err := s.Scrape.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	case ActionScreenshot:
		if s.Output == "" {
			return fmt.Errorf("%s: screenshot needs an output path", path)
		}
	case ActionRepeat:
		if s.Times < 0 {
			return fmt.Errorf("%s: times must not be negative", path)
		}
		if len(s.Steps) == 0 {
			return fmt.Errorf("%s: repeat needs sub-steps", path)
		}
		return validateSteps(s.Steps, path+".steps")
	case ActionCrawl:
		if !s.Target() {
			return fmt.Errorf("%s: crawl needs a selector or xpath", path)
		}
		if len(s.Steps) == 0 {
			return fmt.Errorf("%s: crawl needs sub-steps", path)
		}
		return validateSteps(s.Steps, path+".steps")
	}
	return nil
}

func validateWait(w *WaitCondition, path string) error {
	if !waitKinds[w.For] {
		return fmt.Errorf("%s: unknown wait condition %q", path, w.For)
	}
	switch w.For {
	case WaitSelector:
		if w.Selector == "" {
			return fmt.Errorf("%s: wait for selector needs 'selector'", path)
		}
	case WaitXPath:
		if w.XPath == "" {
			return fmt.Errorf("%s: wait for xpath needs 'xpath'", path)
		}
	case WaitTimeout:
		if w.Timeout <= 0 {
			return fmt.Errorf("%s: wait for timeout needs a positive 'timeout'", path)
		}
	case WaitRequest, WaitResponse:
		if w.URL == "" {
			return fmt.Errorf("%s: wait for %s needs 'url'", path, w.For)
		}
	case WaitFunction:
		if w.Script == "" {
			return fmt.Errorf("%s: wait for function needs 'script'", path)
		}
	}
	return nil
}
