package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/superset-studio/cloudchain/internal/chainerr"
)

const (
	// EnvConfigPath names the environment variable that overrides the config
	// file location.
	EnvConfigPath = "CLOUDCHAIN_CONFIG"
	// DefaultFileName is looked up in the caller's home directory.
	DefaultFileName = ".cchainrc"

	envPrefix = "CLOUDCHAIN"
)

type Config struct {
	Dynamo   DynamoConfig   `mapstructure:"dynamo"`
	KMS      KMSConfig      `mapstructure:"iamkms"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Bypass   bool           `mapstructure:"bypass"`
}

type DynamoConfig struct {
	Region    string `mapstructure:"region_name"`
	Endpoint  string `mapstructure:"endpoint_url"`
	TableName string `mapstructure:"tablename"`
}

type KMSConfig struct {
	KeyAlias string `mapstructure:"keyalias"`
	Endpoint string `mapstructure:"endpoint_url"` // For local KMS emulators
}

type AWSConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	Profile         string `mapstructure:"profile"`
}

type SnapshotConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite", "postgres"
	DSN    string `mapstructure:"dsn"`
}

func (s SnapshotConfig) Enabled() bool {
	return s.DSN != ""
}

type BackupConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"` // For MinIO/LocalStack
	Prefix   string `mapstructure:"prefix"`
}

func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Source records where a config file path came from.
type Source int

const (
	SourceArgument Source = iota
	SourceEnvironment
	SourceDefault
)

func (s Source) String() string {
	switch s {
	case SourceArgument:
		return "argument"
	case SourceEnvironment:
		return EnvConfigPath + " environment variable"
	case SourceDefault:
		return "~/" + DefaultFileName + " default"
	}
	return "unknown"
}

type requiredKey struct {
	key     string
	name    string
	section string
}

// Checked in this order; the first missing one is reported.
var requiredKeys = []requiredKey{
	{"dynamo.region_name", "region_name", "dynamo"},
	{"dynamo.endpoint_url", "endpoint_url", "dynamo"},
	{"dynamo.tablename", "tablename", "dynamo"},
	{"iamkms.keyalias", "keyalias", "IAMKMS"},
}

var optionalKeys = []string{
	"iamkms.endpoint_url",
	"aws.access_key_id",
	"aws.secret_access_key",
	"aws.session_token",
	"aws.profile",
	"snapshot.driver",
	"snapshot.dsn",
	"backup.bucket",
	"backup.region",
	"backup.endpoint",
	"backup.prefix",
	"bypass",
}

// ResolvePath picks the config file location: the explicit argument wins,
// then the CLOUDCHAIN_CONFIG environment variable, then ~/.cchainrc.
func ResolvePath(explicit string, lookupEnv func(string) (string, bool), homeDir func() (string, error)) (string, Source, error) {
	if explicit != "" {
		return explicit, SourceArgument, nil
	}
	if p, ok := lookupEnv(EnvConfigPath); ok && p != "" {
		return p, SourceEnvironment, nil
	}
	home, err := homeDir()
	if err != nil {
		return "", SourceDefault, &chainerr.ConfigError{
			Code:   chainerr.CodeFileNotFound,
			Field:  "home directory",
			Reason: "could not be determined",
			Err:    err,
		}
	}
	return filepath.Join(home, DefaultFileName), SourceDefault, nil
}

// Resolve locates the config file using the process environment and loads it.
func Resolve(explicit string) (*Config, error) {
	path, source, err := ResolvePath(explicit, os.LookupEnv, os.UserHomeDir)
	if err != nil {
		return nil, err
	}
	slog.Debug("configuration file resolved", "path", path, "source", source.String())
	return Load(path)
}

// Load reads an INI config file. The [dynamo] section must provide
// region_name, endpoint_url and tablename, and [IAMKMS] must provide
// keyalias. Any setting can be overridden with a CLOUDCHAIN_<SECTION>_<KEY>
// environment variable.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, &chainerr.ConfigError{Code: chainerr.CodeFileNotFound, Path: path, Reason: "not found"}
	}

	sections, err := readINI(path)
	if err != nil {
		return nil, &chainerr.ConfigError{Code: chainerr.CodeFileInvalid, Path: path, Reason: "could not be parsed", Err: err}
	}

	v := newViper()
	if err := v.MergeConfigMap(sections); err != nil {
		return nil, &chainerr.ConfigError{Code: chainerr.CodeFileInvalid, Path: path, Reason: "could not be merged", Err: err}
	}

	for _, rk := range requiredKeys {
		if !v.IsSet(rk.key) {
			return nil, &chainerr.ConfigError{
				Code:   chainerr.CodeFileInvalid,
				Path:   path,
				Field:  rk.name,
				Reason: fmt.Sprintf("is missing from section [%s]", rk.section),
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &chainerr.ConfigError{Code: chainerr.CodeFileInvalid, Path: path, Reason: "could not be decoded", Err: err}
	}

	slog.Debug("set region_name", "value", cfg.Dynamo.Region)
	slog.Debug("set endpoint_url", "value", cfg.Dynamo.Endpoint)
	slog.Debug("set tablename", "value", cfg.Dynamo.TableName)
	slog.Debug("set keyalias", "value", cfg.KMS.KeyAlias)

	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bound explicitly so env-only values still reach Unmarshal.
	for _, rk := range requiredKeys {
		_ = v.BindEnv(rk.key)
	}
	for _, key := range optionalKeys {
		_ = v.BindEnv(key)
	}

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("iamkms.endpoint_url", "")

	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.session_token", "")
	v.SetDefault("aws.profile", "")

	v.SetDefault("snapshot.driver", "sqlite")
	v.SetDefault("snapshot.dsn", "")

	v.SetDefault("backup.bucket", "")
	v.SetDefault("backup.region", "")
	v.SetDefault("backup.endpoint", "")
	v.SetDefault("backup.prefix", "cloudchain")

	v.SetDefault("bypass", false)
}

// Validate checks that region, endpoint, table name and key alias are all
// set, in that order, and names the first one that is missing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return chainerr.NewMissingFieldError(chainerr.CodeStoreRegion, "region_name")
	}
	switch {
	case cfg.Dynamo.Region == "":
		return chainerr.NewMissingFieldError(chainerr.CodeStoreRegion, "region_name")
	case cfg.Dynamo.Endpoint == "":
		return chainerr.NewMissingFieldError(chainerr.CodeStoreEndpoint, "endpoint_url")
	case cfg.Dynamo.TableName == "":
		return chainerr.NewMissingFieldError(chainerr.CodeTableName, "tablename")
	case cfg.KMS.KeyAlias == "":
		return chainerr.NewMissingFieldError(chainerr.CodeKeyAlias, "keyalias")
	}
	return nil
}

// IsEmpty reports whether none of the four required settings is present.
func (c *Config) IsEmpty() bool {
	return c.Dynamo.Region == "" && c.Dynamo.Endpoint == "" && c.Dynamo.TableName == "" && c.KMS.KeyAlias == ""
}

func (c *Config) ValidateSnapshot() error {
	if !c.Snapshot.Enabled() {
		return &chainerr.ConfigError{Code: chainerr.CodeInvalidSetting, Field: "snapshot.dsn", Reason: "must be set"}
	}
	switch c.Snapshot.Driver {
	case "sqlite", "postgres":
		return nil
	}
	return &chainerr.ConfigError{
		Code:   chainerr.CodeInvalidSetting,
		Field:  "snapshot.driver",
		Reason: fmt.Sprintf("must be sqlite or postgres, got %q", c.Snapshot.Driver),
	}
}

func (c *Config) ValidateBackup() error {
	if !c.Backup.Enabled() {
		return &chainerr.ConfigError{Code: chainerr.CodeInvalidSetting, Field: "backup.bucket", Reason: "must be set"}
	}
	if c.BackupRegion() == "" {
		return &chainerr.ConfigError{Code: chainerr.CodeInvalidSetting, Field: "backup.region", Reason: "must be set"}
	}
	return nil
}

// BackupRegion falls back to the data store region when [backup] has none.
func (c *Config) BackupRegion() string {
	if c.Backup.Region != "" {
		return c.Backup.Region
	}
	return c.Dynamo.Region
}

// IsConfigError reports whether err is a configuration failure.
func IsConfigError(err error) bool {
	return errors.Is(err, chainerr.ErrConfiguration)
}
