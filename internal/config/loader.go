package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/tracefang/pkg/analysis"
	"github.com/Sumatoshi-tech/tracefang/pkg/events"
)

// configType is the config file format. Sections map to nested keys;
// list-valued keys keep their comma-separated form.
const configType = "yaml"

// envPrefix is the environment variable prefix for tracefang settings.
const envPrefix = "TRACEFANG"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// defaultWorkers is the default test worker count.
const defaultWorkers = 1

// Load reads the configuration file at path, applies env overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	viperCfg := viper.New()

	viperCfg.SetConfigType(configType)
	viperCfg.SetConfigFile(path)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	viperCfg.SetDefault("test.workers", defaultWorkers)

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		return nil, fmt.Errorf("read config: %w", readErr)
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

// Write persists the effective configuration back to a sectioned file.
func (c *Config) Write(path string) error {
	viperCfg := viper.New()
	viperCfg.SetConfigType(configType)

	viperCfg.Set("target.path", c.Target.Path)

	if c.Target.Language != "" {
		viperCfg.Set("target.language", c.Target.Language)
	}

	setNonEmpty(viperCfg, "events.events", c.Events.Events)
	setNonEmpty(viperCfg, "events.predicates", c.Events.Predicates)
	setNonEmpty(viperCfg, "events.test", c.Events.Test)
	setNonEmpty(viperCfg, "events.metrics", c.Events.Metrics)
	setNonEmpty(viperCfg, "events.passing", c.Events.Passing)
	setNonEmpty(viperCfg, "events.failing", c.Events.Failing)
	setNonEmpty(viperCfg, "events.mapping", c.Events.Mapping)

	if c.Events.IgnoreInner {
		viperCfg.Set("events.ignore_inner", true)
	}

	setNonEmpty(viperCfg, "instrumentation.path", c.Instrumentation.Path)
	setNonEmpty(viperCfg, "instrumentation.include", c.Instrumentation.Include)
	setNonEmpty(viperCfg, "instrumentation.exclude", c.Instrumentation.Exclude)
	setNonEmpty(viperCfg, "instrumentation.test", c.Instrumentation.Test)
	setNonEmpty(viperCfg, "instrumentation.test_files", c.Instrumentation.TestFiles)

	setNonEmpty(viperCfg, "test.runner", c.Test.Runner)
	viperCfg.Set("test.workers", c.Test.Workers)

	if c.Test.ThreadSupport {
		viperCfg.Set("test.thread_support", true)
	}

	writeErr := viperCfg.WriteConfigAs(path)
	if writeErr != nil {
		return fmt.Errorf("write config: %w", writeErr)
	}

	return nil
}

func setNonEmpty(viperCfg *viper.Viper, key, value string) {
	if value != "" {
		viperCfg.Set(key, value)
	}
}

// Resolved holds the engine objects built from a validated configuration.
type Resolved struct {
	// Types are the analysis variants to build.
	Types []analysis.Type
	// Factory is the combination factory over Types.
	Factory *analysis.CombinationFactory
	// Metrics are the metric names to score with.
	Metrics []string
	// Mapping resolves event ids to metadata.
	Mapping *events.Mapping
	// Passing and Failing are the discovered trace files.
	Passing []*events.EventFile
	Failing []*events.EventFile
	// Language is the configured or inferred source language.
	Language string
}

// Build resolves the configuration into engine objects: the analysis
// factory, the event mapping, and the discovered passing and failing traces
// sharing one run-id sequence.
func (c *Config) Build(logger *slog.Logger) (*Resolved, error) {
	types, typesErr := c.AnalysisTypes()
	if typesErr != nil {
		return nil, typesErr
	}

	factory, factoryErr := analysis.NewFactories(types)
	if factoryErr != nil {
		return nil, factoryErr
	}

	mapping, mappingErr := c.loadMapping(logger)
	if mappingErr != nil {
		return nil, mappingErr
	}

	gen := &events.RunIDGenerator{}

	passing, passingErr := events.Discover(c.PassingPaths(), gen, mapping, false)
	if passingErr != nil {
		return nil, passingErr
	}

	failing, failingErr := events.Discover(c.FailingPaths(), gen, mapping, true)
	if failingErr != nil {
		return nil, failingErr
	}

	language := c.Target.Language
	if language == "" {
		language = InferLanguage(c.Target.Path)

		if language != "" {
			logger.Debug("inferred target language", slog.String("language", language))
		}
	}

	return &Resolved{
		Types:    types,
		Factory:  factory,
		Metrics:  c.MetricNames(),
		Mapping:  mapping,
		Passing:  passing,
		Failing:  failing,
		Language: language,
	}, nil
}

// loadMapping reads the configured mapping, or the conventional one for the
// target. A missing mapping degrades to an empty one with a warning: streams
// replayed against it abort on their first event id.
func (c *Config) loadMapping(logger *slog.Logger) (*events.Mapping, error) {
	path := c.Events.Mapping
	if path == "" {
		defaultPath, err := events.DefaultMappingPath(c.Target.Path)
		if err != nil {
			return nil, err
		}

		path = defaultPath
	}

	mapping, err := events.LoadMapping(path)
	if err != nil {
		logger.Warn("event mapping unavailable, using empty mapping",
			slog.String("path", path),
			slog.Any("error", err))

		return events.NewMapping(nil), nil
	}

	return mapping, nil
}
