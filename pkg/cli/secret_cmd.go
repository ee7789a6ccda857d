package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newSecretCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the orchestrator credential secret",
	}

	cmd.AddCommand(newSecretRotateCmd(s))

	return cmd
}

func newSecretRotateCmd(s *session) *cobra.Command {
	var (
		keyID     string
		keySecret string
	)

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the orchestrator API credentials and restart the service",
		Long:  "Rewrite the token secret with a new key id and secret, then restart the service so the container re-reads the mounted credential. Values not passed as flags are prompted for; the secret is read without echo.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer s.close()
			if keyID == "" {
				v, err := promptLine("Key ID: ")
				if err != nil {
					return err
				}
				keyID = v
			}
			if keySecret == "" {
				v, err := promptSecret("Key secret: ")
				if err != nil {
					return err
				}
				keySecret = v
			}
			if keyID == "" || keySecret == "" {
				return fmt.Errorf("key id and secret are required")
			}

			ctl, err := s.controller()
			if err != nil {
				return err
			}
			if err := ctl.RotateToken(cmd.Context(), keyID, keySecret); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{
					"status": "rotated",
					"key_id": keyID,
					"secret": s.names().TokenSecret,
				})
			}
			fmt.Fprintf(os.Stdout, "Secret %s rotated, service restarting\n", s.names().TokenSecret)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyID, "key-id", "", "New key id")
	cmd.Flags().StringVar(&keySecret, "key-secret", "", "New key secret (prompted without echo when omitted)")

	return cmd
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		// Piped input: fall back to a plain read so scripts can drive it.
		return promptLine("")
	}
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
