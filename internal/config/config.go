// Package config defines the tracefang configuration: the recognized
// sections and keys, validation, and resolution into engine objects.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
	"github.com/Sumatoshi-tech/tracefang/pkg/metrics"
)

// Config is the top-level configuration. Field tags use mapstructure for
// viper unmarshalling; list-valued keys hold comma-separated values in the
// config file.
type Config struct {
	Target          TargetConfig          `mapstructure:"target"`
	Events          EventsConfig          `mapstructure:"events"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation"`
	Test            TestConfig            `mapstructure:"test"`
}

// TargetConfig identifies the subject under analysis.
type TargetConfig struct {
	// Path is the source root of the subject.
	Path string `mapstructure:"path"`
	// Language is the source language tag; inferred from the tree when
	// empty.
	Language string `mapstructure:"language"`
}

// EventsConfig selects events, analysis variants, metrics and trace files.
type EventsConfig struct {
	Events      string `mapstructure:"events"`
	Predicates  string `mapstructure:"predicates"`
	Test        string `mapstructure:"test"`
	IgnoreInner bool   `mapstructure:"ignore_inner"`
	Metrics     string `mapstructure:"metrics"`
	Passing     string `mapstructure:"passing"`
	Failing     string `mapstructure:"failing"`
	Mapping     string `mapstructure:"mapping"`
}

// InstrumentationConfig locates the instrumented tree and its file filters.
type InstrumentationConfig struct {
	Path      string `mapstructure:"path"`
	Include   string `mapstructure:"include"`
	Exclude   string `mapstructure:"exclude"`
	Test      string `mapstructure:"test"`
	TestFiles string `mapstructure:"test_files"`
}

// TestConfig configures the test driver.
type TestConfig struct {
	Runner        string `mapstructure:"runner"`
	Workers       int    `mapstructure:"workers"`
	ThreadSupport bool   `mapstructure:"thread_support"`
}

// Sentinel errors for configuration validation.
var (
	// ErrMissingTargetPath indicates target.path is not set.
	ErrMissingTargetPath = errors.New("target.path is required")
	// ErrInvalidWorkers indicates test.workers is not positive.
	ErrInvalidWorkers = errors.New("test.workers must be positive")
	// ErrUnknownRunner indicates an unrecognized test.runner value.
	ErrUnknownRunner = errors.New("unknown test runner")
	// ErrUnknownMetricName indicates an unrecognized metric name.
	ErrUnknownMetricName = errors.New("unknown metric name")
)

// RunnerType enumerates the known test driver kinds.
type RunnerType string

// Test driver kinds.
const (
	RunnerVoid             RunnerType = "VOID"
	RunnerPytest           RunnerType = "PYTEST"
	RunnerUnittest         RunnerType = "UNITTEST"
	RunnerInput            RunnerType = "INPUT"
	RunnerParallelPytest   RunnerType = "PARALLEL_PYTEST"
	RunnerParallelUnittest RunnerType = "PARALLEL_UNITTEST"
	RunnerParallelInput    RunnerType = "PARALLEL_INPUT"
)

// parallelRunnerPrefix marks the parallel driver variants.
const parallelRunnerPrefix = "PARALLEL_"

// ParseRunner resolves a runner name, case-insensitively.
func ParseRunner(name string) (RunnerType, error) {
	switch RunnerType(strings.ToUpper(name)) {
	case RunnerVoid, RunnerPytest, RunnerUnittest, RunnerInput,
		RunnerParallelPytest, RunnerParallelUnittest, RunnerParallelInput:
		return RunnerType(strings.ToUpper(name)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownRunner, name)
	}
}

// Parallel promotes a serial runner to its parallel variant.
func (r RunnerType) Parallel() RunnerType {
	if strings.HasPrefix(string(r), parallelRunnerPrefix) || r == RunnerVoid {
		return r
	}

	return RunnerType(parallelRunnerPrefix + string(r))
}

// splitList parses a comma-separated config value, dropping empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")

	cleaned := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(strings.Trim(strings.TrimSpace(part), `"`))
		if trimmed == "" {
			continue
		}

		cleaned = append(cleaned, trimmed)
	}

	return cleaned
}

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Target.Path == "" {
		return ErrMissingTargetPath
	}

	if c.Test.Workers < 1 {
		return ErrInvalidWorkers
	}

	if c.Test.Runner != "" {
		_, err := ParseRunner(c.Test.Runner)
		if err != nil {
			return err
		}
	}

	for _, name := range splitList(c.Events.Metrics) {
		if !metrics.Known(name) {
			return fmt.Errorf("%w: %s", ErrUnknownMetricName, name)
		}
	}

	_, predicatesErr := c.AnalysisTypes()
	if predicatesErr != nil {
		return predicatesErr
	}

	_, eventsErr := c.EventTypes()
	if eventsErr != nil {
		return eventsErr
	}

	_, testEventsErr := c.TestEventTypes()

	return testEventsErr
}

// AnalysisTypes parses events.predicates into analysis variants.
func (c *Config) AnalysisTypes() ([]analysis.Type, error) {
	names := splitList(c.Events.Predicates)

	types := make([]analysis.Type, 0, len(names))

	for _, name := range names {
		t, err := analysis.ParseType(strings.ToUpper(name))
		if err != nil {
			return nil, err
		}

		types = append(types, t)
	}

	return types, nil
}

// EventTypes parses events.events into event kinds.
func (c *Config) EventTypes() ([]events.Type, error) {
	return parseEventList(c.Events.Events)
}

// TestEventTypes parses events.test into event kinds.
func (c *Config) TestEventTypes() ([]events.Type, error) {
	return parseEventList(c.Events.Test)
}

func parseEventList(value string) ([]events.Type, error) {
	names := splitList(value)

	kinds := make([]events.Type, 0, len(names))

	for _, name := range names {
		t, err := events.ParseType(strings.ToUpper(name))
		if err != nil {
			return nil, err
		}

		kinds = append(kinds, t)
	}

	return kinds, nil
}

// MetricNames returns the configured metric names, defaulting to Ochiai.
func (c *Config) MetricNames() []string {
	names := splitList(c.Events.Metrics)
	if len(names) == 0 {
		return []string{metrics.DefaultSpectrum}
	}

	return names
}

// PassingPaths returns the configured passing trace entries.
func (c *Config) PassingPaths() []string {
	return splitList(c.Events.Passing)
}

// FailingPaths returns the configured failing trace entries.
func (c *Config) FailingPaths() []string {
	return splitList(c.Events.Failing)
}

// IncludePatterns returns the instrumentation include patterns.
func (c *Config) IncludePatterns() []string {
	return splitList(c.Instrumentation.Include)
}

// ExcludePatterns returns the instrumentation exclude patterns.
func (c *Config) ExcludePatterns() []string {
	return splitList(c.Instrumentation.Exclude)
}

// Identifier returns the stable identifier of the target path.
func (c *Config) Identifier() string {
	return events.Identifier(c.Target.Path)
}
