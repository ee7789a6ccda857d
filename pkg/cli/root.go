// Package cli implements the snowbridge operator CLI. It drives the
// deployed agent's lifecycle, references, and configuration through the
// Snowflake statement API using a key-pair profile.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, map[string]interface{}{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	return newRootCmdWithGateway(nil)
}

// newRootCmdWithGateway builds the command tree around a session. Tests pass
// a fake gateway; the nil default makes the session dial Snowflake lazily.
func newRootCmdWithGateway(gw statementGateway) *cobra.Command {
	var (
		account  string
		host     string
		user     string
		keyPath  string
		database string
		output   string
		profile  string
		verbose  bool
	)

	s := &session{gw: gw}

	rootCmd := &cobra.Command{
		Use:           "snowbridge",
		Short:         "Operator CLI for the snowbridge agent",
		Long:          "Manage the snowbridge agent deployed in a Snowflake account: service lifecycle, references, credentials, and dynamic configuration.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				// Config file is optional
				cfg = &UserConfig{
					CurrentProfile: "default",
					Profiles:       map[string]Profile{},
				}
			}

			p := cfg.ActiveProfile(profile)

			// Apply precedence: flag > env > profile > default
			flags := cmd.Flags()
			applyOverride(flags, "account", "SNOWBRIDGE_ACCOUNT", &account, p.Account)
			applyOverride(flags, "host", "SNOWBRIDGE_HOST", &host, p.Host)
			applyOverride(flags, "user", "SNOWBRIDGE_USER", &user, p.User)
			applyOverride(flags, "private-key-path", "SNOWBRIDGE_PRIVATE_KEY_PATH", &keyPath, p.PrivateKeyPath)
			applyOverride(flags, "database", "SNOWBRIDGE_DATABASE", &database, p.Database)
			applyOverride(flags, "output", "SNOWBRIDGE_OUTPUT", &output, p.Output)
			if err := validateOutputFormat(output); err != nil {
				return err
			}

			passphrase := os.Getenv("SNOWBRIDGE_PRIVATE_KEY_PASSPHRASE")
			if passphrase == "" {
				passphrase = p.PrivateKeyPassphrase
			}
			backendURL := os.Getenv("SNOWBRIDGE_BACKEND_URL")
			if backendURL == "" {
				backendURL = p.BackendURL
			}

			s.profile = Profile{
				Account:              account,
				Host:                 host,
				User:                 user,
				PrivateKeyPath:       keyPath,
				PrivateKeyPassphrase: passphrase,
				Database:             database,
				Warehouse:            p.Warehouse,
				Role:                 p.Role,
				BackendURL:           backendURL,
			}
			s.output = output

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			s.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&account, "account", "", "Snowflake account locator")
	rootCmd.PersistentFlags().StringVar(&host, "host", "", "Snowflake host (overrides the account-derived hostname)")
	rootCmd.PersistentFlags().StringVar(&user, "user", "", "Snowflake user the key pair is registered on")
	rootCmd.PersistentFlags().StringVar(&keyPath, "private-key-path", "", "Path to the RSA private key PEM")
	rootCmd.PersistentFlags().StringVar(&database, "database", "MCD_AGENT", "Application database of the deployed agent")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log statement activity to stderr")

	rootCmd.AddCommand(newAppCmd(s))
	rootCmd.AddCommand(newReferenceCmd(s))
	rootCmd.AddCommand(newSecretCmd(s))
	rootCmd.AddCommand(newConfigCmd(s))
	rootCmd.AddCommand(newAgentCmd(s))
	rootCmd.AddCommand(newQueryCmd(s))
	rootCmd.AddCommand(newProfileCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// applyOverride fills target from the environment or the active profile
// when the flag was not set explicitly.
func applyOverride(flags *pflag.FlagSet, name, envKey string, target *string, profileValue string) {
	if flags.Changed(name) {
		return
	}
	if v := os.Getenv(envKey); v != "" {
		*target = v
		return
	}
	if profileValue != "" {
		*target = profileValue
	}
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
