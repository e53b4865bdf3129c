package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/quatton/qlaunch/pkg/qerr"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "QLAUNCH"
	ConfigName = "qlaunch"
	ConfigRoot = ".qlaunch"

	DefaultRunTimeout = 7200
	DefaultRetryWait  = 10
	// DefaultRetryTimeout bounds all RunJob retries, in seconds.
	DefaultRetryTimeout = 300

	SecretsBackendSecretManager = "secretmanager"
	SecretsBackendKeyring       = "keyring"
	SecretsBackendStatic        = "static"
)

// DefaultWorkerCommand is the container entrypoint args prefix.
var DefaultWorkerCommand = []string{"qlaunch-worker", "execute-run"}

// ValueSource is a configuration value given literally, by secret name, or
// by environment variable. Exactly one field is set.
//
//	region: europe-west1
//	region: {secret_name: run-region}
//	region: {env: RUN_REGION}
//
// Name is only used by env lists, where it carries the variable name with
// its case intact.
type ValueSource struct {
	Name       string `mapstructure:"name" json:"name,omitempty"`
	Literal    string `mapstructure:"value" json:"value,omitempty"`
	SecretName string `mapstructure:"secret_name" json:"secret_name,omitempty"`
	Env        string `mapstructure:"env" json:"env,omitempty"`
}

// Validate reports an error unless exactly one source is set.
func (s ValueSource) Validate() error {
	n := 0
	for _, v := range []string{s.Literal, s.SecretName, s.Env} {
		if v != "" {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("exactly one of value, secret_name or env must be set, got %d", n)
	}
	return nil
}

// JobConfig is a per-code-location job entry. A bare string in the config
// file decodes to a JobConfig with only Name set.
//
// Env may be a map or a list. Viper lowercases map keys, so variables whose
// name is not all upper case must use the list form:
//
//	env:
//	  - {name: HuggingFace_Token, secret_name: hf-token}
type JobConfig struct {
	Name      string                 `mapstructure:"name" json:"name,omitempty"`
	ProjectID *ValueSource           `mapstructure:"project_id" json:"project_id,omitempty"`
	Region    *ValueSource           `mapstructure:"region" json:"region,omitempty"`
	Env       map[string]ValueSource `mapstructure:"env" json:"env,omitempty"`
}

// HasOverrides reports whether the entry carries project or region overrides.
func (j JobConfig) HasOverrides() bool {
	return j.ProjectID != nil || j.Region != nil
}

// RetryConfig controls transport-level retries of RunJob, in seconds.
type RetryConfig struct {
	Wait    int `mapstructure:"wait" json:"wait"`
	Timeout int `mapstructure:"timeout" json:"timeout"`
}

// SecretsConfig selects the secret backend.
type SecretsConfig struct {
	Backend string `mapstructure:"backend" json:"backend"`
	// Project holding the secrets. Defaults to the launcher project.
	Project string `mapstructure:"project" json:"project,omitempty"`
	// Values backs the static backend.
	Values map[string]string `mapstructure:"values" json:"-"`
	// KeyringService overrides the keyring service name.
	KeyringService string `mapstructure:"keyring_service" json:"keyring_service,omitempty"`
}

type Config struct {
	Project               string                 `mapstructure:"project" json:"project"`
	Region                string                 `mapstructure:"region" json:"region"`
	JobName               string                 `mapstructure:"job_name" json:"job_name"`
	JobNameByCodeLocation map[string]JobConfig   `mapstructure:"job_name_by_code_location" json:"job_name_by_code_location,omitempty"`
	RunTimeout            int                    `mapstructure:"run_timeout" json:"run_timeout"`
	RunJobRetry           RetryConfig            `mapstructure:"run_job_retry" json:"run_job_retry"`
	WorkerCommand         []string               `mapstructure:"worker_command" json:"worker_command"`
	Env                   map[string]ValueSource `mapstructure:"env" json:"env,omitempty"`
	Endpoint              string                 `mapstructure:"endpoint" json:"endpoint,omitempty"`
	Secrets               SecretsConfig          `mapstructure:"secrets" json:"secrets"`
	CodeLocations         []string               `mapstructure:"code_locations" json:"code_locations,omitempty"`

	v *viper.Viper // instance-specific viper
}

// LoadConfig creates a new Config instance with its own viper.
// Without cfgFile it reads qlaunch.yaml from the working directory and
// merges .qlaunch/config.yaml on top when present.
func LoadConfig(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"project", "region", "job_name", "endpoint", "secrets.backend", "secrets.project"} {
		_ = v.BindEnv(key)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	} else {
		for _, name := range []string{"qlaunch.yaml", "qlaunch.yml", ".qlaunch.yaml"} {
			if _, err := os.Stat(name); err == nil {
				v.SetConfigFile(name)
				if err := v.ReadInConfig(); err == nil {
					break
				}
			}
		}

		localConfigPath := filepath.Join(ConfigRoot, "config.yaml")
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merging local config: %w", err)
			}
		}
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, qerr.New(qerr.CodeConfig, fmt.Errorf("unmarshaling config: %w", err))
	}
	cfg.v = v

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run_timeout", DefaultRunTimeout)
	v.SetDefault("run_job_retry.wait", DefaultRetryWait)
	v.SetDefault("run_job_retry.timeout", DefaultRetryTimeout)
	v.SetDefault("worker_command", DefaultWorkerCommand)
	v.SetDefault("secrets.backend", SecretsBackendSecretManager)
}

// decodeHook extends viper's default hooks so bare strings decode into
// ValueSource and JobConfig.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToConfigHook,
		envListHook,
	)
}

var (
	valueSourceType = reflect.TypeOf(ValueSource{})
	jobConfigType   = reflect.TypeOf(JobConfig{})
	envMapType      = reflect.TypeOf(map[string]ValueSource{})
)

// envListHook turns an env list into a map keyed by each entry's name.
func envListHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != envMapType || from.Kind() != reflect.Slice {
		return data, nil
	}
	items, ok := data.([]any)
	if !ok {
		return data, nil
	}
	env := make(map[string]any, len(items))
	for i, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("env[%d]: expected a mapping, got %T", i, item)
		}
		name, _ := entry["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("env[%d]: name is required", i)
		}
		if _, dup := env[name]; dup {
			return nil, fmt.Errorf("env[%d]: duplicate name %s", i, name)
		}
		env[name] = entry
	}
	return env, nil
}

func stringToConfigHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s := data.(string)
	switch to {
	case valueSourceType:
		return ValueSource{Literal: s}, nil
	case jobConfigType:
		return JobConfig{Name: s}, nil
	}
	return data, nil
}

// Validate checks the config is complete enough to launch runs.
func (c *Config) Validate() error {
	var problems []string
	if c.Project == "" {
		problems = append(problems, "project is required")
	}
	if c.Region == "" {
		problems = append(problems, "region is required")
	}
	if c.JobName == "" {
		problems = append(problems, "job_name is required")
	}
	if c.RunTimeout <= 0 {
		problems = append(problems, "run_timeout must be positive")
	}
	for loc, job := range c.JobNameByCodeLocation {
		if job.ProjectID != nil {
			if err := job.ProjectID.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("job_name_by_code_location.%s.project_id: %v", loc, err))
			}
		}
		if job.Region != nil {
			if err := job.Region.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("job_name_by_code_location.%s.region: %v", loc, err))
			}
		}
		for name, src := range job.Env {
			if err := src.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("job_name_by_code_location.%s.env.%s: %v", loc, name, err))
			}
		}
	}
	for name, src := range c.Env {
		if err := src.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("env.%s: %v", name, err))
		}
	}
	switch c.Secrets.Backend {
	case "", SecretsBackendSecretManager, SecretsBackendKeyring, SecretsBackendStatic:
	default:
		problems = append(problems, fmt.Sprintf("secrets.backend: unknown backend %q", c.Secrets.Backend))
	}

	if len(problems) > 0 {
		return qerr.Newf(qerr.CodeConfig, "invalid launcher config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// JobConfigFor returns the entry for a code location. Viper lowercases map
// keys, so lookups fall back to the lowercased name.
func (c *Config) JobConfigFor(codeLocation string) (JobConfig, bool) {
	if job, ok := c.JobNameByCodeLocation[codeLocation]; ok {
		return job, true
	}
	job, ok := c.JobNameByCodeLocation[strings.ToLower(codeLocation)]
	return job, ok
}

// RunTimeoutDuration returns the run timeout override.
func (c *Config) RunTimeoutDuration() time.Duration {
	if c.RunTimeout <= 0 {
		return DefaultRunTimeout * time.Second
	}
	return time.Duration(c.RunTimeout) * time.Second
}

// SecretsProject returns the project secrets are read from.
func (c *Config) SecretsProject() string {
	if c.Secrets.Project != "" {
		return c.Secrets.Project
	}
	return c.Project
}

// ConfigFileUsed returns the config file that was used (if any)
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// Viper returns the underlying viper instance
func (c *Config) Viper() *viper.Viper {
	return c.v
}
