package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	require.Equal(t, DefaultAdminAddr, cfg.AdminAddr)
	require.Equal(t, BackendFile, cfg.Store.Backend)
	require.Equal(t, DefaultStorePath, cfg.Store.Path)
	require.Equal(t, DefaultStoreNamespace, cfg.Store.Namespace)
	require.Equal(t, DefaultGreenPin, cfg.GPIO.GreenPin)
	require.Equal(t, DefaultRedPin, cfg.GPIO.RedPin)
	require.Equal(t, DefaultDriveTimeout, cfg.Timeouts.Drive)
	require.Equal(t, DefaultPersistTimeout, cfg.Timeouts.Persist)
	require.Empty(t, cfg.MQTT.Broker)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	cfg := Default()
	cfg.HTTPAddr = "no-port"
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.AdminAddr = "bad"
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.AdminAddr = ""
	require.NoError(t, Validate(cfg))

	cfg = Default()
	cfg.Store.Backend = "etcd"
	require.ErrorIs(t, Validate(cfg), errUnknownBackend)

	cfg = Default()
	cfg.Store = Store{Backend: BackendSQLite}
	require.ErrorIs(t, Validate(cfg), errStorePathMissing)

	cfg = Default()
	cfg.GPIO.RedPin = cfg.GPIO.GreenPin
	require.ErrorIs(t, Validate(cfg), errSamePins)

	cfg = Default()
	cfg.GPIO.GreenPin = -1
	require.ErrorIs(t, Validate(cfg), errInvalidPin)
}

func TestLoadMissingDefaultFile(t *testing.T) {
	// Changes the working directory, so not parallel.
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadPartialFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	contents := []byte(`
http_addr: ":8080"
store:
  backend: sqlite
  path: /var/lib/lamp/nvs.db
timeouts:
  drive: 250ms
mqtt:
  broker: tcp://192.168.1.200:1883
`)
	require.NoError(t, os.WriteFile(path, contents, DefaultFilePermissions))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, DefaultAdminAddr, cfg.AdminAddr)
	require.Equal(t, BackendSQLite, cfg.Store.Backend)
	require.Equal(t, "/var/lib/lamp/nvs.db", cfg.Store.Path)
	require.Equal(t, DefaultStoreNamespace, cfg.Store.Namespace)
	require.Equal(t, 250*time.Millisecond, cfg.Timeouts.Drive)
	require.Equal(t, DefaultPersistTimeout, cfg.Timeouts.Persist)
	require.Equal(t, DefaultGreenPin, cfg.GPIO.GreenPin)
	require.Equal(t, "tcp://192.168.1.200:1883", cfg.MQTT.Broker)
	require.Equal(t, DefaultMQTTClientID, cfg.MQTT.ClientID)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := Default()
	cfg.GPIO = GPIO{Chip: "gpiochip4", GreenPin: 5, RedPin: 6}
	cfg.Timeouts.Persist = 3 * time.Second

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	require.Error(t, Save(path, nil))
}
