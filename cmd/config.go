package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dt-pm-tools/jira-sync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configure JIRA and Linear connection settings",
	Long:  `Interactively set up the JIRA site, credentials and project, and the Linear API key and team. Settings are saved to ~/.jira-sync.yaml; other keys in an existing file are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)

		// Load existing config for defaults
		cfg, _ := config.Load(cfgFile)

		cfg.Jira.URL = prompt(reader, "JIRA URL", cfg.Jira.URL, "e.g., https://your-org.atlassian.net")
		cfg.Jira.Email = prompt(reader, "JIRA email", cfg.Jira.Email, "")
		token, err := promptSecret("JIRA API token", cfg.Jira.Token)
		if err != nil {
			return err
		}
		cfg.Jira.Token = token
		cfg.Jira.Project = strings.ToUpper(prompt(reader, "JIRA project key", cfg.Jira.Project, "e.g., PROJ"))

		key, err := promptSecret("Linear API key", cfg.Linear.APIKey)
		if err != nil {
			return err
		}
		cfg.Linear.APIKey = key
		cfg.Linear.Team = strings.ToUpper(prompt(reader, "Linear team key", cfg.Linear.Team, "e.g., ENG"))

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}

		if err := config.Save(cfg, path); err != nil {
			return err
		}

		fmt.Printf("Configuration saved to %s\n", path)
		return nil
	},
}

func prompt(reader *bufio.Reader, label, current, hint string) string {
	switch {
	case current != "":
		fmt.Printf("%s [%s]: ", label, current)
	case hint != "":
		fmt.Printf("%s (%s): ", label, hint)
	default:
		fmt.Printf("%s: ", label)
	}
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	return line
}

// promptSecret reads a value without echo, keeping current on empty input.
func promptSecret(label, current string) (string, error) {
	if current != "" {
		fmt.Printf("%s (input hidden, enter to keep): ", label)
	} else {
		fmt.Printf("%s (input hidden): ", label)
	}
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	if s := strings.TrimSpace(string(b)); s != "" {
		return s, nil
	}
	return current, nil
}

func init() {
	rootCmd.AddCommand(configCmd)
}
