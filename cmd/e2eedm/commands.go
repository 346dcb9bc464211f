package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	e2eedm "github.com/egregoros/e2eedm-go"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether encrypted DMs are enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.client.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "enabled: %t\n", s.Enabled)
			if !s.Enabled {
				return nil
			}
			fmt.Fprintf(out, "kid: %s\n", s.ActiveKID)
			fmt.Fprintf(out, "fingerprint: %s\n", s.Fingerprint)
			fmt.Fprintf(out, "wrappers: %s\n", strings.Join(s.Wrappers, ", "))
			return nil
		},
	}
}

func (a *app) enableRecoveryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable-recovery",
		Short: "Create an identity key protected by a 24-word recovery phrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.client.EnableRecoveryPhrase(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kid: %s\n", reg.KID)
			fmt.Fprintf(out, "fingerprint: %s\n", reg.Fingerprint)
			fmt.Fprintf(out, "recovery phrase: %s\n", reg.RecoveryPhrase)
			fmt.Fprintln(cmd.ErrOrStderr(), "Write the recovery phrase down. It is the only way to read your messages on a new device.")
			return nil
		},
	}
}

func (a *app) unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the identity key and cache it on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.client.EnsureUnlocked(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s (%s)\n", id.KID, id.Fingerprint())
			return nil
		},
	}
}

func (a *app) resolve(cmd *cobra.Command, target string) (*e2eedm.ActorKey, error) {
	var (
		key *e2eedm.ActorKey
		err error
	)
	if strings.HasPrefix(target, "@") {
		key, err = a.client.ResolveHandle(cmd.Context(), target)
	} else {
		key, err = a.client.ResolveKey(cmd.Context(), target, "")
	}
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %s", e2eedm.ErrRecipientKeyUnavailable, target)
	}
	return key, nil
}

func (a *app) encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <actor|@handle> <text>",
		Short: "Encrypt a message and print the envelope as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			env, err := a.client.EncryptTo(cmd.Context(), key, args[1])
			if err != nil {
				return err
			}
			data, err := env.Marshal()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func (a *app) decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <file|->",
		Short: "Decrypt an envelope read from a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(a.stdin)
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read envelope: %w", err)
			}

			env, err := e2eedm.ParseEnvelope(data)
			if err != nil {
				return err
			}
			text, err := a.client.Decrypt(cmd.Context(), env)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", env.Sender.APID, text)
			return nil
		},
	}
}

func (a *app) resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <actor|@handle>",
		Short: "Look up an actor's published key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.resolve(cmd, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "actor: %s\n", key.ActorID)
			fmt.Fprintf(out, "kid: %s\n", key.KID)
			fmt.Fprintf(out, "fingerprint: %s\n", key.Fingerprint)
			return nil
		},
	}
}

func (a *app) lockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Forget cached keys on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.client.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "locked")
			return nil
		},
	}
}
