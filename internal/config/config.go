// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/wheelhouse-dev/wheelhouse/internal/issue"
	"github.com/wheelhouse-dev/wheelhouse/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "wheelhouse"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
)

//go:embed config_schema.cue
var configSchema []byte

// Schema returns the embedded #Config schema source.
func Schema() string { return string(configSchema) }

// ConfigDir returns the wheelhouse configuration directory using
// platform-specific conventions: %APPDATA% on Windows, ~/Library/Application
// Support on macOS, $XDG_CONFIG_HOME (default ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions performs option-driven config loading. An explicit file
// must exist; otherwise a missing file means defaults.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	resolvedPath := ""
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'wheelhouse config show' to see the default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir := opts.ConfigDirPath
		if cfgDir == "" {
			dir, err := ConfigDir()
			if err != nil {
				return nil, "", err
			}
			cfgDir = dir
		}
		cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		if fileExists(cuePath) {
			resolvedPath = cuePath
		}
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Compare against 'wheelhouse config schema'").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Test.Timeout < 0 || cfg.Test.RetryDelay < 0 {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(fmt.Errorf("test.timeout and test.retry_delay must not be negative")).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func setDefaults(v *viper.Viper, defaults *Config) {
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("python", defaults.Python)
	v.SetDefault("ui.color_scheme", defaults.UI.ColorScheme)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
	v.SetDefault("test.workers", defaults.Test.Workers)
	v.SetDefault("test.retries", defaults.Test.Retries)
	v.SetDefault("test.retry_delay", defaults.Test.RetryDelay)
	v.SetDefault("test.timeout", defaults.Test.Timeout)
	v.SetDefault("test.strict_xfail", defaults.Test.StrictXFail)
	v.SetDefault("test.tty", defaults.Test.TTY)
	v.SetDefault("audit.policy", defaults.Audit.Policy)
	v.SetDefault("audit.validator", defaults.Audit.Validator)
	v.SetDefault("audit.clean_host_image", defaults.Audit.CleanHostImage)
	v.SetDefault("audit.library_path", defaults.Audit.LibraryPath)
	v.SetDefault("publish.endpoint", defaults.Publish.Endpoint)
	v.SetDefault("publish.bucket", defaults.Publish.Bucket)
	v.SetDefault("publish.prefix", defaults.Publish.Prefix)
	v.SetDefault("publish.region", defaults.Publish.Region)
	v.SetDefault("publish.secure", defaults.Publish.Secure)
	v.SetDefault("publish.access_key_env", defaults.Publish.AccessKeyEnv)
	v.SetDefault("publish.secret_key_env", defaults.Publish.SecretKeyEnv)
}

// loadCUEIntoViper validates the file against #Config and merges it into
// Viper. Concrete(false) because every config field is optional.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	configMap, err := cueutil.ParseToMap(configSchema, data, "#Config",
		cueutil.WithFilename(path), cueutil.WithConcrete(false))
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes a default config file into dir (ConfigDir when
// empty) unless one already exists. It returns the file path.
func CreateDefaultConfig(dir string) (string, error) {
	if dir == "" {
		var err error
		if dir, err = ConfigDir(); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(cfgPath) {
		return cfgPath, nil
	}
	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, nil
}

// GenerateCUE renders cfg as a config file.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// wheelhouse user configuration\n\n")

	fmt.Fprintf(&sb, "log: level: %q\n", cfg.Log.Level)
	fmt.Fprintf(&sb, "python: %q\n", cfg.Python)

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	sb.WriteString("\ntest: {\n")
	fmt.Fprintf(&sb, "\tworkers: %d\n", cfg.Test.Workers)
	fmt.Fprintf(&sb, "\tretries: %d\n", cfg.Test.Retries)
	fmt.Fprintf(&sb, "\tretry_delay: %q\n", cfg.Test.RetryDelay.String())
	fmt.Fprintf(&sb, "\ttimeout: %q\n", cfg.Test.Timeout.String())
	fmt.Fprintf(&sb, "\tstrict_xfail: %v\n", cfg.Test.StrictXFail)
	fmt.Fprintf(&sb, "\ttty: %v\n", cfg.Test.TTY)
	sb.WriteString("}\n")

	sb.WriteString("\naudit: {\n")
	fmt.Fprintf(&sb, "\tpolicy: %q\n", cfg.Audit.Policy)
	fmt.Fprintf(&sb, "\tvalidator: %q\n", cfg.Audit.Validator)
	if cfg.Audit.CleanHostImage != "" {
		fmt.Fprintf(&sb, "\tclean_host_image: %q\n", cfg.Audit.CleanHostImage)
	}
	if len(cfg.Audit.LibraryPath) > 0 {
		sb.WriteString("\tlibrary_path: [")
		for i, p := range cfg.Audit.LibraryPath {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%q", p)
		}
		sb.WriteString("]\n")
	}
	sb.WriteString("}\n")

	sb.WriteString("\npublish: {\n")
	if cfg.Publish.Endpoint != "" {
		fmt.Fprintf(&sb, "\tendpoint: %q\n", cfg.Publish.Endpoint)
	}
	if cfg.Publish.Bucket != "" {
		fmt.Fprintf(&sb, "\tbucket: %q\n", cfg.Publish.Bucket)
	}
	if cfg.Publish.Prefix != "" {
		fmt.Fprintf(&sb, "\tprefix: %q\n", cfg.Publish.Prefix)
	}
	if cfg.Publish.Region != "" {
		fmt.Fprintf(&sb, "\tregion: %q\n", cfg.Publish.Region)
	}
	fmt.Fprintf(&sb, "\tsecure: %v\n", cfg.Publish.Secure)
	fmt.Fprintf(&sb, "\taccess_key_env: %q\n", cfg.Publish.AccessKeyEnv)
	fmt.Fprintf(&sb, "\tsecret_key_env: %q\n", cfg.Publish.SecretKeyEnv)
	sb.WriteString("}\n")

	return sb.String()
}
