// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	// LogLevelDebug enables debug logging.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default log level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs warnings and errors only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs errors only.
	LogLevelError LogLevel = "error"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces the dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces the light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// ValidatorStatic re-inspects repaired wheels on the host.
	ValidatorStatic ValidatorKind = "static"
	// ValidatorContainer installs repaired wheels in a clean container image.
	ValidatorContainer ValidatorKind = "container"
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidValidatorKind is returned when a ValidatorKind value is not recognized.
	ErrInvalidValidatorKind = errors.New("invalid validator kind")
)

type (
	// LogLevel is the minimum level written by the logger.
	LogLevel string

	// InvalidLogLevelError wraps ErrInvalidLogLevel.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError wraps ErrInvalidColorScheme.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// ValidatorKind selects how repaired wheels are checked.
	ValidatorKind string

	// InvalidValidatorKindError wraps ErrInvalidValidatorKind.
	InvalidValidatorKindError struct {
		Value ValidatorKind
	}

	// Config is the user configuration.
	Config struct {
		Log     LogConfig     `json:"log" mapstructure:"log"`
		Python  string        `json:"python" mapstructure:"python"`
		UI      UIConfig      `json:"ui" mapstructure:"ui"`
		Test    TestConfig    `json:"test" mapstructure:"test"`
		Audit   AuditConfig   `json:"audit" mapstructure:"audit"`
		Publish PublishConfig `json:"publish" mapstructure:"publish"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level"`
	}

	// UIConfig configures terminal output.
	UIConfig struct {
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		Verbose     bool        `json:"verbose" mapstructure:"verbose"`
	}

	// TestConfig holds test orchestrator settings used when the matrix does
	// not provide them. Workers of 0 means one per CPU.
	TestConfig struct {
		Workers     int           `json:"workers" mapstructure:"workers"`
		Retries     int           `json:"retries" mapstructure:"retries"`
		RetryDelay  time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
		Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
		StrictXFail bool          `json:"strict_xfail" mapstructure:"strict_xfail"`
		TTY         bool          `json:"tty" mapstructure:"tty"`
	}

	// AuditConfig configures the portability auditor.
	AuditConfig struct {
		Policy         string        `json:"policy" mapstructure:"policy"`
		Validator      ValidatorKind `json:"validator" mapstructure:"validator"`
		CleanHostImage string        `json:"clean_host_image" mapstructure:"clean_host_image"`
		LibraryPath    []string      `json:"library_path" mapstructure:"library_path"`
	}

	// PublishConfig configures uploads to an S3-compatible bucket.
	// Credentials are read from the named forwarded variables.
	PublishConfig struct {
		Endpoint     string `json:"endpoint" mapstructure:"endpoint"`
		Bucket       string `json:"bucket" mapstructure:"bucket"`
		Prefix       string `json:"prefix" mapstructure:"prefix"`
		Region       string `json:"region" mapstructure:"region"`
		Secure       bool   `json:"secure" mapstructure:"secure"`
		AccessKeyEnv string `json:"access_key_env" mapstructure:"access_key_env"`
		SecretKeyEnv string `json:"secret_key_env" mapstructure:"secret_key_env"`
	}
)

func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// IsValid returns whether the LogLevel is one of the defined levels.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// IsValid returns whether the ColorScheme is one of the defined schemes.
func (c ColorScheme) IsValid() (bool, []error) {
	switch c {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: c}}
	}
}

func (e *InvalidValidatorKindError) Error() string {
	return fmt.Sprintf("invalid validator %q (valid: static, container)", e.Value)
}

func (e *InvalidValidatorKindError) Unwrap() error { return ErrInvalidValidatorKind }

// IsValid returns whether the ValidatorKind is one of the defined kinds.
func (v ValidatorKind) IsValid() (bool, []error) {
	switch v {
	case ValidatorStatic, ValidatorContainer:
		return true, nil
	default:
		return false, []error{&InvalidValidatorKindError{Value: v}}
	}
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Log:    LogConfig{Level: LogLevelInfo},
		Python: "python3",
		UI:     UIConfig{ColorScheme: ColorSchemeAuto},
		Test: TestConfig{
			RetryDelay:  time.Second,
			Timeout:     300 * time.Second,
			StrictXFail: true,
		},
		Audit: AuditConfig{
			Policy:    "manylinux_2_28",
			Validator: ValidatorStatic,
		},
		Publish: PublishConfig{
			Secure:       true,
			AccessKeyEnv: "WHEELHOUSE_S3_ACCESS_KEY",
			SecretKeyEnv: "WHEELHOUSE_S3_SECRET_KEY",
		},
	}
}
