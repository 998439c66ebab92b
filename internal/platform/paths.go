package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Paths locates the config file, the SQLite version log and local envelopes.
type Paths struct {
	ConfigPath  string
	DataDir     string
	DBPath      string
	EnvelopeDir string
}

// Options selects the app directory name. DevMode appends "-dev" to it.
type Options struct {
	AppName string
	DevMode bool
}

const defaultAppName = "tamato"

// baseOverrides lists the env vars that replace the config and data bases per OS.
var baseOverrides = map[string][2]string{
	"linux":   {"XDG_CONFIG_HOME", "XDG_DATA_HOME"},
	"windows": {"APPDATA", "LOCALAPPDATA"},
}

// ForHost resolves paths for the running OS and user.
func ForHost(opts Options) (Paths, error) {
	name := strings.TrimSpace(opts.AppName)
	if name == "" {
		name = defaultAppName
	}
	if opts.DevMode {
		name += "-dev"
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir := configDir
	switch runtime.GOOS {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("user home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			dataDir = v
		}
	}

	env := map[string]string{}
	if keys, ok := baseOverrides[runtime.GOOS]; ok {
		for _, k := range keys {
			env[k] = os.Getenv(k)
		}
	}
	return PathsFor(runtime.GOOS, env, configDir, dataDir, name)
}

// PathsFor lays out app paths under the given base dirs. On linux and windows
// non-empty XDG or AppData entries in env replace the bases.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	if userConfigDir == "" || userDataDir == "" {
		return Paths{}, errors.New("empty base dirs")
	}
	if appName = strings.TrimSpace(appName); appName == "" {
		return Paths{}, errors.New("empty app name")
	}

	configBase, dataBase := userConfigDir, userDataDir
	if keys, ok := baseOverrides[goos]; ok {
		if v := env[keys[0]]; v != "" {
			configBase = v
		}
		if v := env[keys[1]]; v != "" {
			dataBase = v
		}
	}

	data := filepath.Join(dataBase, appName)
	return Paths{
		ConfigPath:  filepath.Join(configBase, appName, "config.toml"),
		DataDir:     data,
		DBPath:      filepath.Join(data, appName+".db"),
		EnvelopeDir: filepath.Join(data, "envelopes"),
	}, nil
}

// Resolve applies TAMATO_APP_NAME and TAMATO_DEV_MODE to opts, resolves host
// paths, then applies TAMATO_CONFIG and TAMATO_DB_PATH.
func Resolve(opts Options, lookup func(string) (string, bool)) (Paths, Options, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("TAMATO_APP_NAME"); ok {
		opts.AppName = v
	}
	if v, ok := get("TAMATO_DEV_MODE"); ok {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return Paths{}, Options{}, fmt.Errorf("parse TAMATO_DEV_MODE: %w", err)
		}
		opts.DevMode = dev
	}
	paths, err := ForHost(opts)
	if err != nil {
		return Paths{}, Options{}, err
	}
	if v, ok := get("TAMATO_CONFIG"); ok {
		paths.ConfigPath = v
	}
	if v, ok := get("TAMATO_DB_PATH"); ok {
		paths.DBPath = v
	}
	return paths, opts, nil
}
