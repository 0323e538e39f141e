package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/thinger-io/thinger-ota/internal/config"
	"github.com/thinger-io/thinger-ota/internal/logging"
	"github.com/thinger-io/thinger-ota/internal/version"
	"github.com/thinger-io/thinger-ota/pkg/api"
	"github.com/thinger-io/thinger-ota/pkg/errors"
	"github.com/thinger-io/thinger-ota/pkg/security"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	onlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#43BF6D"))
	offlineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
)

// ensureDirectories creates the parent directory of the history database and, when
// given, the FSM journal directory
func ensureDirectories(sqlitePath, fsmDBPath string) error {
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	return nil
}

// loadConfig loads and validates the configuration. Commands that talk to the
// server need credentials; local commands only need the local settings.
func loadConfig(remote bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}

	validate := cfg.ValidateLocal
	if remote {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	return cfg, nil
}

func newAPIClient(cfg *config.Config) *api.Client {
	client := api.NewClient(cfg.BaseURL(), cfg.User, cfg.Token)
	client.UserAgent = version.UserAgent()
	client.SetTimeout(cfg.Timeout)
	client.SetLogger(logging.Named("api"))
	return client
}

func newValidator(cfg *config.Config) *security.Validator {
	return security.NewValidator(cfg.MaxFirmwareSize, cfg.MinChunkSize, cfg.MaxChunkSize, logging.Named("security"))
}

// printOutput writes v as JSON or YAML, or calls table for the human format
func printOutput(w io.Writer, format string, v any, table func(io.Writer)) error {
	switch format {
	case formatTable, "":
		table(w)
		return nil
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.NewConfigurationError(fmt.Sprintf("unknown output format %q (table, json or yaml)", format))
	}
}

func validOutput(format string) error {
	return printOutput(io.Discard, format, nil, func(io.Writer) {})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
