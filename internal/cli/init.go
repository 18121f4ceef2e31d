package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/mdspull/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config",
	RunE:  initAction,
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if !wrote {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s. Add your providers to %s.\n", configDir, configPath)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# mdspull configuration

providers:
  - name: example
    trips: "https://mds.example.com/trips"
    status_changes: "https://mds.example.com/status_changes"
    token_env: EXAMPLE_MDS_TOKEN
    version: "0.3.0"

output:
  dir: .mdspull/out

audit:
  dir: .mdspull/audit
  # HMAC key for record signatures; defaults to the provider version.
  signing_version: ""

storage:
  path: .mdspull/mdspull.db
  retain_days: 30

http:
  timeout: 60s

matcher:
  max_trip_duration: 24h
  max_trip_distance: 0
  allowed_event_types: []

logging:
  level: info
  format: text

metrics:
  textfile: ""

privacy:
  redact: []
`
