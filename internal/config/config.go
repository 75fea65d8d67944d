// Package config loads service settings from a TOML file, a .env file and
// the process environment, in that order of increasing precedence.
package config

import (
	"bufio"
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"github.com/naoina/toml"

	"github.com/Brownie44l1/imageclf/internal/model"
)

// Environment variables.
const (
	EnvConfigFile     = "IMAGECLF_CONFIG"
	EnvModel          = "IMAGECLF_MODEL"
	EnvDevice         = "IMAGECLF_DEVICE"
	EnvModelDir       = "IMAGECLF_MODEL_DIR"
	EnvLibraryPath    = "ONNXRUNTIME_LIB"
	EnvPort           = "PORT"
	EnvCacheSize      = "IMAGECLF_RESULT_CACHE"
	EnvLogLevel       = "IMAGECLF_LOG_LEVEL"
	EnvLogFormat      = "IMAGECLF_LOG_FORMAT"
	EnvIntraOpThreads = "IMAGECLF_INTRA_OP_THREADS"
)

type Config struct {
	Model           string
	Device          string
	ModelDir        string
	LibraryPath     string
	Port            int
	ResultCacheSize int
	LogLevel        string
	LogFormat       string
	IntraOpThreads  int
	MaxUploadBytes  int64
}

func Default() Config {
	return Config{
		Model:          model.MobileNetV2.String(),
		Device:         "auto",
		ModelDir:       "models",
		Port:           8080,
		LogLevel:       "info",
		LogFormat:      "text",
		MaxUploadBytes: 10 << 20,
	}
}

// Load builds the configuration. tomlPath may be empty, in which case the
// path in IMAGECLF_CONFIG is used if set. envFiles are .env files loaded
// without overriding variables already present in the environment; missing
// files are ignored.
func Load(tomlPath string, envFiles ...string) (Config, error) {
	cfg := Default()

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, xerrors.Newf("failed to load %s: %w", f, err)
		}
	}

	if tomlPath == "" {
		tomlPath = os.Getenv(EnvConfigFile)
	}
	if tomlPath != "" {
		if err := loadTOML(tomlPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func loadTOML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return xerrors.Newf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewDecoder(bufio.NewReader(f)).Decode(cfg); err != nil {
		return xerrors.Newf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		EnvModel:       &cfg.Model,
		EnvDevice:      &cfg.Device,
		EnvModelDir:    &cfg.ModelDir,
		EnvLibraryPath: &cfg.LibraryPath,
		EnvLogLevel:    &cfg.LogLevel,
		EnvLogFormat:   &cfg.LogFormat,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		EnvPort:           &cfg.Port,
		EnvCacheSize:      &cfg.ResultCacheSize,
		EnvIntraOpThreads: &cfg.IntraOpThreads,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return xerrors.Newf("invalid %s=%q: %w", name, v, err)
		}
		*dst = n
	}
	return nil
}

func (c Config) Validate() error {
	if _, err := model.ParseModelWeight(c.Model); err != nil {
		return err
	}
	if _, err := model.ParseDeviceClass(c.Device); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return xerrors.Newf("invalid port %d", c.Port)
	}
	if c.ResultCacheSize < 0 {
		return xerrors.Newf("invalid result cache size %d", c.ResultCacheSize)
	}
	return nil
}

// Weight returns the parsed model selection. Call Validate first.
func (c Config) Weight() model.ModelWeight {
	w, _ := model.ParseModelWeight(c.Model)
	return w
}

// DeviceClass returns the parsed device class. Call Validate first.
func (c Config) DeviceClass() model.DeviceClass {
	d, _ := model.ParseDeviceClass(c.Device)
	return d
}
