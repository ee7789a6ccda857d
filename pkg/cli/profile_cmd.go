package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage CLI connection profiles",
	}

	cmd.AddCommand(newProfileShowCmd())
	cmd.AddCommand(newProfileSetCmd())
	cmd.AddCommand(newProfileUseCmd())

	return cmd
}

func newProfileShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the stored profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "No configuration found at %s\n", ConfigPath())
				return err
			}
			if !reveal {
				cfg = maskConfig(cfg)
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprint(os.Stdout, string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show the key passphrase unmasked")

	return cmd
}

// maskConfig returns a copy of the config with sensitive fields masked.
func maskConfig(cfg *UserConfig) *UserConfig {
	masked := &UserConfig{
		CurrentProfile: cfg.CurrentProfile,
		Profiles:       make(map[string]Profile, len(cfg.Profiles)),
	}
	for name, p := range cfg.Profiles {
		p.PrivateKeyPassphrase = maskSecret(p.PrivateKeyPassphrase)
		masked.Profiles[name] = p
	}
	return masked
}

func newProfileSetCmd() *cobra.Command {
	var (
		name       string
		account    string
		host       string
		user       string
		keyPath    string
		passphrase string
		database   string
		warehouse  string
		role       string
		backendURL string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or update a connection profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("output-format") {
				if err := validateOutputFormat(output); err != nil {
					return err
				}
			}

			cfg, err := LoadUserConfig()
			if err != nil {
				cfg = &UserConfig{
					CurrentProfile: "default",
					Profiles:       map[string]Profile{},
				}
			}

			p := cfg.Profiles[name]
			if cmd.Flags().Changed("account") {
				p.Account = account
			}
			if cmd.Flags().Changed("host") {
				p.Host = host
			}
			if cmd.Flags().Changed("user") {
				p.User = user
			}
			if cmd.Flags().Changed("private-key-path") {
				p.PrivateKeyPath = keyPath
			}
			if cmd.Flags().Changed("passphrase") {
				p.PrivateKeyPassphrase = passphrase
			}
			if cmd.Flags().Changed("database") {
				p.Database = database
			}
			if cmd.Flags().Changed("warehouse") {
				p.Warehouse = warehouse
			}
			if cmd.Flags().Changed("role") {
				p.Role = role
			}
			if cmd.Flags().Changed("backend-url") {
				p.BackendURL = backendURL
			}
			if cmd.Flags().Changed("output-format") {
				p.Output = output
			}
			cfg.Profiles[name] = p

			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{
					"status":  "ok",
					"profile": name,
					"path":    ConfigPath(),
				})
			}
			fmt.Fprintf(os.Stdout, "Profile %q saved to %s\n", name, ConfigPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "default", "Profile name")
	cmd.Flags().StringVar(&account, "account", "", "Snowflake account locator")
	cmd.Flags().StringVar(&host, "host", "", "Snowflake host override")
	cmd.Flags().StringVar(&user, "user", "", "Snowflake user")
	cmd.Flags().StringVar(&keyPath, "private-key-path", "", "Path to the RSA private key PEM")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Private key passphrase")
	cmd.Flags().StringVar(&database, "database", "", "Application database of the deployed agent")
	cmd.Flags().StringVar(&warehouse, "warehouse", "", "Warehouse for CLI statements")
	cmd.Flags().StringVar(&role, "role", "", "Role for CLI statements")
	cmd.Flags().StringVar(&backendURL, "backend-url", "", "Orchestrator URL for deployments")
	cmd.Flags().StringVar(&output, "output-format", "", "Default output format")

	return cmd
}

func newProfileUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Set the active profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				return fmt.Errorf("no config found: %w", err)
			}
			name := args[0]
			if _, ok := cfg.Profiles[name]; !ok {
				return fmt.Errorf("profile %q not found", name)
			}
			cfg.CurrentProfile = name
			if err := SaveUserConfig(cfg); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{
					"status":         "ok",
					"active_profile": name,
				})
			}
			fmt.Fprintf(os.Stdout, "Active profile set to %q\n", name)
			return nil
		},
	}
}
