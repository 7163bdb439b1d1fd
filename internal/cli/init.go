package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/andywolf/agentcast/internal/cli/wizard"
	"github.com/andywolf/agentcast/internal/content"
)

var initCmd = &cobra.Command{
	Use:   "init [agent]",
	Short: "Initialize an agent and its configuration",
	Long: `Create .agentcast.yaml and an empty master document for a new agent.

The master document is written to <content-dir>/<agent>/<agent>_master.json
(or .yaml) with the tracker at the first post. Add seasons to it before
running the scheduler.

Example:
  agentcast init zorp
  agentcast init zorp --format yaml --interval 60
  agentcast init --interactive`,
	Args: cobra.MaximumNArgs(1),
	RunE: initAgent,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().String("format", "json", "Master document format (json or yaml)")
	initCmd.Flags().Int("interval", content.DefaultPostEveryMinutes, "Minutes between posts")
	initCmd.Flags().String("publisher", "twitter", "Publisher (twitter, webhook or dry-run)")
	initCmd.Flags().String("end-policy", "AUTO", "What to do when posts run out: AUTO, LOOP or STOP")
	initCmd.Flags().BoolP("interactive", "i", false, "Prompt for settings")
	initCmd.Flags().Bool("force", false, "Overwrite existing config")
}

type projectConfig struct {
	Agent   string `yaml:"agent"`
	Content struct {
		Dir    string `yaml:"dir"`
		Format string `yaml:"format"`
	} `yaml:"content"`
	Schedule struct {
		EndPolicy string `yaml:"end_policy"`
		DryRun    bool   `yaml:"dry_run"`
	} `yaml:"schedule"`
	Publisher struct {
		Kind    string `yaml:"kind"`
		Twitter struct {
			TokenEnv string `yaml:"token_env"`
		} `yaml:"twitter"`
		Webhook struct {
			URL       string `yaml:"url,omitempty"`
			SecretEnv string `yaml:"secret_env"`
		} `yaml:"webhook"`
	} `yaml:"publisher"`
	PostLog struct {
		Backend string `yaml:"backend"`
	} `yaml:"postlog"`
}

func newProjectConfig(a *wizard.InitAnswers, contentDir string) projectConfig {
	var cfg projectConfig
	cfg.Agent = a.Agent
	cfg.Content.Dir = contentDir
	cfg.Content.Format = a.Format
	cfg.Schedule.EndPolicy = a.EndPolicy
	cfg.Schedule.DryRun = a.Publisher == "dry-run"
	cfg.Publisher.Kind = a.Publisher
	cfg.Publisher.Twitter.TokenEnv = "X_BEARER_TOKEN"
	cfg.Publisher.Webhook.SecretEnv = "AGENTCAST_WEBHOOK_SECRET"
	cfg.PostLog.Backend = "file"
	return cfg
}

func initAgent(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	answers := &wizard.InitAnswers{}
	if len(args) == 1 {
		answers.Agent = args[0]
	} else {
		answers.Agent = viper.GetString("agent")
	}
	answers.Format, _ = cmd.Flags().GetString("format")
	answers.Minutes, _ = cmd.Flags().GetInt("interval")
	answers.Publisher, _ = cmd.Flags().GetString("publisher")
	answers.EndPolicy, _ = cmd.Flags().GetString("end-policy")

	configPath := filepath.Join(".", ".agentcast.yaml")
	force, _ := cmd.Flags().GetBool("force")
	interactive, _ := cmd.Flags().GetBool("interactive")

	if interactive {
		var err error
		answers, err = wizard.PromptInit(*answers)
		if err != nil {
			return err
		}
		if _, err := os.Stat(configPath); err == nil && !force {
			force, err = wizard.ConfirmOverwrite(configPath)
			if err != nil {
				return err
			}
		}
	}

	if err := wizard.ValidateAgentName(answers.Agent); err != nil {
		return err
	}
	if answers.Minutes < 1 {
		return fmt.Errorf("interval must be at least 1 minute, got %d", answers.Minutes)
	}
	format, err := content.ParseFormat(answers.Format)
	if err != nil {
		return err
	}

	contentDir := viper.GetString("content.dir")
	if err := writeProjectConfig(configPath, newProjectConfig(answers, contentDir), force); err != nil {
		fmt.Fprintln(out, "Skipped config:", err)
	} else {
		fmt.Fprintf(out, "Created %s\n", configPath)
	}

	store := content.NewFileStore(contentDir, format)
	doc := content.NewDocument([]content.Season{})
	doc.Tracker.PostEveryXMinutes = answers.Minutes
	if err := store.Create(ctx, answers.Agent, doc); err != nil {
		return err
	}
	fmt.Fprintf(out, "Created %s\n\n", store.Path(answers.Agent))

	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Add seasons, episodes and posts to the master document")
	fmt.Fprintln(out, "  2. Export your publisher credentials (see .agentcast.yaml)")
	fmt.Fprintf(out, "  3. Run 'agentcast run --agent %s --dry-run' to preview\n", answers.Agent)

	return nil
}

func writeProjectConfig(path string, cfg projectConfig, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := `# agentcast configuration
# Values can be overridden with AGENTCAST_* environment variables.

`

	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
