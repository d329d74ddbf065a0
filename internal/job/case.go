package job

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// CaseSpec is the on-disk description of one runnable case: a command
// line, its dependencies and resource needs. Parsing/discovering cases
// from a build system or test tree is out of scope; CaseSpec is the
// minimal manifest format the CLI accepts directly.
type CaseSpec struct {
	ID         string          `json:"id"`
	Command    []string        `json:"command"`
	DependsOn  []string        `json:"depends_on,omitempty"`
	Exclusive  bool            `json:"exclusive,omitempty"`
	Resources  ResourceRequest `json:"resources,omitempty"`
	TimeoutSec float64         `json:"timeout_seconds,omitempty"`
	Estimate   float64         `json:"runtime_estimate_seconds,omitempty"`
	SkipReturnCodes []int      `json:"skip_return_codes,omitempty"`
	PassRegex  string          `json:"pass_regex,omitempty"`
}

type manifest struct {
	Cases []CaseSpec `json:"cases"`
}

// LoadManifestFile reads a JSON manifest file and returns one Case per
// entry, wired into an Arena with dependency ids validated against
// each other.
func LoadManifestFile(fsys afero.Fs, path string) ([]*Case, *Arena, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, nil, fmt.Errorf("job: read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("job: parse manifest: %w", err)
	}

	arena := NewArena()
	cases := make([]*Case, 0, len(m.Cases))
	for _, spec := range m.Cases {
		if spec.ID == "" {
			return nil, nil, fmt.Errorf("job: manifest entry missing id")
		}
		if len(spec.Command) == 0 {
			return nil, nil, fmt.Errorf("job: case %s missing command", spec.ID)
		}
		status := Created
		if len(spec.DependsOn) == 0 {
			status = Ready
		} else {
			status = Pending
		}
		c := &Case{
			spec:         spec,
			status:       status,
			measurements: NewMeasurements(),
			arena:        arena,
		}
		cases = append(cases, c)
		arena.Add(c)
	}
	for _, c := range cases {
		for _, dep := range c.spec.DependsOn {
			if _, ok := arena.Get(dep); !ok {
				return nil, nil, fmt.Errorf("job: case %s depends on unknown case %s", c.ID(), dep)
			}
		}
	}
	return cases, arena, nil
}

// Case is the concrete Job implementation driving a CaseSpec's command
// through the scheduler.
type Case struct {
	mu     sync.Mutex
	spec   CaseSpec
	status Status
	reason string
	arena  *Arena

	acquired     Acquired
	measurements *Measurements
	output       string
}

func (c *Case) ID() string          { return c.spec.ID }
func (c *Case) DisplayName() string { return c.spec.ID }

func (c *Case) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Case) SetStatus(s Status, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
	c.reason = reason
}

func (c *Case) Dependencies() []string { return c.spec.DependsOn }
func (c *Case) Exclusive() bool        { return c.spec.Exclusive }

func (c *Case) RequiredResources() ResourceRequest { return c.spec.Resources }

func (c *Case) AssignResources(a Acquired) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquired = a
}

func (c *Case) FreeResources() Acquired {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.acquired
	c.acquired = nil
	return a
}

func (c *Case) Timeout() time.Duration {
	if c.spec.TimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.spec.TimeoutSec * float64(time.Second))
}

func (c *Case) RuntimeEstimate() time.Duration {
	return time.Duration(c.spec.Estimate * float64(time.Second))
}

func (c *Case) Measurements() *Measurements { return c.measurements }

// Refresh promotes a Pending case to Ready once every dependency has
// reached a terminal status, regardless of whether it succeeded —
// ordering, not success, is what the dependency graph guarantees.
func (c *Case) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Pending {
		return nil
	}
	for _, depID := range c.spec.DependsOn {
		dep, ok := c.arena.Get(depID)
		if !ok || !dep.Status().Terminal() {
			return nil
		}
	}
	c.status = Ready
	return nil
}

func (c *Case) Save() error { return nil }

// ApplyResult derives and records the terminal status for a finished
// run, per DeriveOutcome's skip-before-pass-regex precedence.
func (c *Case) ApplyResult(returnCode int, output string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = output
	hasPass := c.spec.PassRegex != ""
	matched := false
	if hasPass {
		matched = matchesPassRegex(c.spec.PassRegex, output)
	}
	c.status = DeriveOutcome(returnCode, c.spec.SkipReturnCodes, output, matched, hasPass)
}

func (c *Case) Command() []string { return c.spec.Command }

func matchesPassRegex(pattern, output string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(output)
}
