package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/internal/scheduler"
)

var configOutputFmt string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and manage deltascan configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration (secrets redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkFormat(configOutputFmt); err != nil {
			return err
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		redact(cfg)
		format := configOutputFmt
		if format == "table" {
			format = "json"
		}
		return encode(os.Stdout, cfg, format)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without contacting the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if len(cfg.Watch.Targets) > 0 {
			if err := scheduler.Validate(cfg.Watch.Schedule); err != nil {
				return config.Errorf("watch.schedule", "invalid cron expression %q: %v", cfg.Watch.Schedule, err)
			}
		}
		fmt.Println(okStyle.Render("Configuration is valid."))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the path to the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.ConfigPath(cfgFile)
		if err != nil {
			return err
		}
		fmt.Println(p)
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.ConfigPath(cfgFile)
		if err != nil {
			return err
		}
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "nano"
		}
		fmt.Printf("Opening %s with %s...\n", p, editor)
		c := exec.Command(editor, p) // #nosec G204 -- editor is from $EDITOR env var, intentional user-controlled binary
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	},
}

// redact masks every secret of cfg.
func redact(cfg *config.Config) {
	if cfg.Backend.APIKey != "" {
		cfg.Backend.APIKey = "***"
	}
	for i := range cfg.Git.GitHub {
		if cfg.Git.GitHub[i].Token != "" {
			cfg.Git.GitHub[i].Token = "ghp-***"
		}
	}
	for i := range cfg.Git.GitLab {
		if cfg.Git.GitLab[i].Token != "" {
			cfg.Git.GitLab[i].Token = "glpat-***"
		}
	}
	if cfg.Database.DSN != "" {
		cfg.Database.DSN = "***"
	}
}

func init() {
	configShowCmd.Flags().StringVar(&configOutputFmt, "output", "json", "Output format: json|yaml")
	configCmd.AddCommand(configShowCmd, configValidateCmd, configPathCmd, configEditCmd)
}
