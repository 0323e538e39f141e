package firmware

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/storage"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

// FileProvider reads a firmware binary from disk
type FileProvider struct {
	Path        string
	Environment string
	Version     string
}

// Firmware implements Provider
func (p *FileProvider) Firmware(ctx context.Context) (*Image, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, p.Path)
		}
		return nil, errors.Wrap(err, "failed to read firmware")
	}

	env := p.Environment
	if env == "" {
		env = strings.TrimSuffix(filepath.Base(p.Path), filepath.Ext(p.Path))
	}
	return NewImage(data, env, p.Version, p.Path), nil
}

// PlatformIOProvider picks the firmware.bin produced by a PlatformIO build, optionally
// running the build first.
type PlatformIOProvider struct {
	ProjectDir  string
	Environment string
	Version     string

	// Build runs "pio run" before looking for binaries
	Build bool

	// Command is the PlatformIO executable, "pio" when empty
	Command string

	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
}

// Firmware implements Provider
func (p *PlatformIOProvider) Firmware(ctx context.Context) (*Image, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if p.Build {
		if err := p.build(ctx, logger); err != nil {
			return nil, err
		}
	}

	envs, err := Environments(p.ProjectDir)
	if err != nil {
		return nil, err
	}

	env := p.Environment
	switch {
	case env != "":
		if !slices.Contains(envs, env) {
			return nil, errors.Wrap(ErrNotFound, "environment "+env)
		}
	case len(envs) == 1:
		env = envs[0]
	case len(envs) == 0:
		return nil, errors.Wrap(ErrNotFound, "no PlatformIO build in "+p.ProjectDir)
	default:
		return nil, errors.New("several PlatformIO environments built (" + strings.Join(envs, ", ") + "), select one")
	}

	fw := filepath.Join(p.ProjectDir, ".pio", "build", env, "firmware.bin")
	logger.Info("platformio_firmware_selected", zap.String("environment", env), zap.String("path", fw))

	provider := FileProvider{Path: fw, Environment: env, Version: p.Version}
	return provider.Firmware(ctx)
}

func (p *PlatformIOProvider) build(ctx context.Context, logger *zap.Logger) error {
	command := p.Command
	if command == "" {
		command = "pio"
	}

	args := []string{"run", "-d", p.ProjectDir}
	if p.Environment != "" {
		args = append(args, "-e", p.Environment)
	}

	logger.Info("platformio_build_start", zap.String("command", command), zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	if err := cmd.Run(); err != nil {
		logger.Error("platformio_build_failed", zap.Error(err))
		return errors.Wrap(err, "PlatformIO build failed")
	}

	logger.Info("platformio_build_complete")
	return nil
}

// Environments lists the PlatformIO environments of projectDir that have a built
// firmware.bin, sorted by name.
func Environments(projectDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(projectDir, ".pio", "build", "*", "firmware.bin"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to search PlatformIO builds")
	}

	envs := make([]string, 0, len(matches))
	for _, m := range matches {
		envs = append(envs, filepath.Base(filepath.Dir(m)))
	}
	sort.Strings(envs)
	return envs, nil
}

// S3Provider downloads the firmware from a bucket. A key ending in "/" selects the
// newest binary under that prefix.
type S3Provider struct {
	Client      *storage.Client
	Key         string
	Environment string
	Version     string
	MaxSize     int64
}

// Firmware implements Provider
func (p *S3Provider) Firmware(ctx context.Context) (*Image, error) {
	key := p.Key
	if key == "" || strings.HasSuffix(key, "/") {
		latest, err := p.Client.Latest(ctx, key)
		if err != nil {
			return nil, p.notFound(err)
		}
		key = latest
	}

	obj, err := p.Client.Fetch(ctx, key, p.MaxSize)
	if err != nil {
		return nil, p.notFound(err)
	}

	env := p.Environment
	if env == "" {
		env = path.Base(path.Dir(key))
		if env == "." || env == "/" {
			env = strings.TrimSuffix(path.Base(key), path.Ext(key))
		}
	}

	version := p.Version
	if version == "" {
		if base := strings.TrimSuffix(path.Base(key), path.Ext(key)); semver.IsValid("v" + strings.TrimPrefix(base, "v")) {
			version = base
		}
	}

	return NewImage(obj.Data, env, version, "s3://"+key), nil
}

func (p *S3Provider) notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Wrap(ErrNotFound, err.Error())
	}
	return err
}
