package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/config-v1.json
var configSchemaJSON string

var envReplacer = strings.NewReplacer(".", "_")

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("config-v1.json", strings.NewReader(configSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("config-v1.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// ValidateDocument checks a JSON document against the embedded schema.
func ValidateDocument(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return &ConfigurationError{Err: err}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ConfigurationError{Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	if err := s.Validate(doc); err != nil {
		field := ""
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			for len(ve.Causes) > 0 {
				ve = ve.Causes[0]
			}
			field = ve.InstanceLocation
		}
		return &ConfigurationError{Field: field, Err: fmt.Errorf("schema validation failed: %w", err)}
	}
	return nil
}

// ValidateSchema validates the decoded configuration. Durations are checked
// in nanoseconds.
func ValidateSchema(c *Config) error {
	data, err := json.Marshal(c)
	if err != nil {
		return &ConfigurationError{Err: fmt.Errorf("failed to marshal config: %w", err)}
	}
	return ValidateDocument(data)
}

// Validate applies the checks the schema cannot express.
func (c *Config) Validate() error {
	if c.Scheduler.Interval < time.Minute || c.Scheduler.Interval%time.Minute != 0 {
		return &ConfigurationError{Field: "scheduler.interval",
			Err: fmt.Errorf("must be a whole number of minutes, got %s", c.Scheduler.Interval)}
	}
	if c.Scheduler.DarkInterval <= 0 {
		return &ConfigurationError{Field: "scheduler.dark_interval",
			Err: fmt.Errorf("must be positive, got %s", c.Scheduler.DarkInterval)}
	}

	for _, role := range []string{RoleDay, RoleNight} {
		dev, _ := c.Cameras.Role(role)
		if dev.Device == "" {
			return &ConfigurationError{Field: "cameras." + role + ".device", Err: errors.New("required")}
		}
		if !(dev.Exposure > 0) {
			return &ConfigurationError{Field: "cameras." + role + ".exposure",
				Err: fmt.Errorf("must be > 0, got %v", dev.Exposure)}
		}
	}

	for _, rate := range c.Camera.BaudRates {
		if _, ok := supportedBaudRates[rate]; !ok {
			return &ConfigurationError{Field: "camera.baud_rates", Err: fmt.Errorf("unsupported rate %d", rate)}
		}
	}

	if c.Database.Enabled && c.Database.Host == "" {
		return &ConfigurationError{Field: "database.host", Err: errors.New("required when database is enabled")}
	}
	return nil
}

var supportedBaudRates = map[int]struct{}{
	9600: {}, 19200: {}, 38400: {}, 57600: {}, 115200: {}, 230400: {}, 460800: {},
}
