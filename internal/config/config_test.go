package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/imageclf/internal/model"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvConfigFile, EnvModel, EnvDevice, EnvModelDir, EnvLibraryPath,
		EnvPort, EnvCacheSize, EnvLogLevel, EnvLogFormat, EnvIntraOpThreads} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, model.MobileNetV2, cfg.Weight())
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "imageclf.toml", `
Model = "resnet50"
Device = "windows"
Port = 9090
ResultCacheSize = 64
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, model.ResNet50, cfg.Weight())
	assert.Equal(t, model.DeviceWindows, cfg.DeviceClass())
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 64, cfg.ResultCacheSize)
	assert.Equal(t, "models", cfg.ModelDir)
}

func TestEnvOverridesTOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "imageclf.toml", "Model = \"resnet50\"\nPort = 9090\n")
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvModel, "mobilenetv3-small")
	t.Setenv(EnvPort, "7000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, model.MobileNetV3Small, cfg.Weight())
	assert.Equal(t, 7000, cfg.Port)
}

func TestDotEnv(t *testing.T) {
	clearEnv(t)
	envFile := writeFile(t, ".env", "IMAGECLF_DEVICE=android\nIMAGECLF_INTRA_OP_THREADS=2\n")
	t.Cleanup(func() {
		os.Unsetenv(EnvDevice)
		os.Unsetenv(EnvIntraOpThreads)
	})

	cfg, err := Load("", envFile)
	require.NoError(t, err)

	assert.Equal(t, model.DeviceAndroid, cfg.DeviceClass())
	assert.Equal(t, 2, cfg.IntraOpThreads)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPort, "eighty")
	_, err := Load("")
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv(EnvModel, "alexnet")
	_, err = Load("")
	assert.ErrorIs(t, err, model.ErrUnknownWeight)

	clearEnv(t)
	t.Setenv(EnvDevice, "toaster")
	_, err = Load("")
	assert.ErrorIs(t, err, model.ErrUnknownDevice)

	clearEnv(t)
	_, err = Load(writeFile(t, "bad.toml", "Port = \"not a number\""))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
