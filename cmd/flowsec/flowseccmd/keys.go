/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package flowseccmd

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowsec/flowsec-go/pkg/backup"
	"github.com/flowsec/flowsec-go/pkg/kms/rsakms"
)

const (
	backupFileFlagName      = "file"
	backupFileFlagShorthand = "f"
	backupFileFlagUsage     = "Path of the key backup file. Export writes a new file named after the user" +
		" in the current directory when not set."

	fingerprintOfFlagName  = "of"
	fingerprintOfFlagUsage = "User whose public key fingerprint to print. Defaults to the current user."
)

var errBackupFileRequired = errors.New("backup file is required")

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage encryption keys",
	}

	cmd.AddCommand(keysGenerateCmd(), keysFingerprintCmd(), keysExportCmd(), keysImportCmd(), keysInfoCmd())

	return cmd
}

func keysGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a key pair for the user",
		Long:  `Generate an RSA key pair, store the private key wrapped under the secret and publish the public key`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}

			defer env.close()

			secret, err := getUserSetVar(cmd, secretFlagName, secretEnvKey, false)
			if err != nil {
				return err
			}

			sc, err := env.sessions().SetupKeys(cmdContext(cmd), secret)
			if err != nil {
				return err
			}

			defer sc.Clear()

			pub, err := sc.PublicKey()
			if err != nil {
				return err
			}

			fp, err := rsakms.Fingerprint(pub)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "generated keys for %s\nfingerprint: %s\n", env.userID, fp)

			return nil
		},
	}
}

func keysFingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of a published public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}

			defer env.close()

			of, err := cmd.Flags().GetString(fingerprintOfFlagName)
			if err != nil {
				return err
			}

			if of == "" {
				of = env.userID
			}

			pub, err := env.dir.PublicKey(cmdContext(cmd), of)
			if err != nil {
				return err
			}

			fp, err := rsakms.Fingerprint(pub)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), fp)

			return nil
		},
	}

	cmd.Flags().StringP(fingerprintOfFlagName, "", "", fingerprintOfFlagUsage)

	return cmd
}

func keysExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the wrapped private key to a backup file",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}

			defer env.close()

			now := time.Now()

			raw, err := newBackupService(env, now).Export(env.userID)
			if err != nil {
				return err
			}

			path, err := cmd.Flags().GetString(backupFileFlagName)
			if err != nil {
				return err
			}

			if path == "" {
				path = backup.FileName(env.userID, now)
			}

			if err = os.WriteFile(path, raw, 0o600); err != nil {
				return fmt.Errorf("failed to write backup file: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "exported key backup to %s\n", path)

			return nil
		},
	}

	cmd.Flags().StringP(backupFileFlagName, backupFileFlagShorthand, "", backupFileFlagUsage)

	return cmd
}

func keysImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore the wrapped private key from a backup file",
		Long:  `Restore the wrapped private key from a backup file. The secret is verified before the key is stored`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}

			defer env.close()

			path, err := cmd.Flags().GetString(backupFileFlagName)
			if err != nil {
				return err
			}

			if path == "" {
				return errBackupFileRequired
			}

			raw, err := os.ReadFile(path) // nolint:gosec
			if err != nil {
				return fmt.Errorf("failed to read backup file: %w", err)
			}

			secret, err := getUserSetVar(cmd, secretFlagName, secretEnvKey, false)
			if err != nil {
				return err
			}

			doc, err := backup.Parse(raw)
			if err != nil {
				return err
			}

			if doc.UserID != env.userID {
				return fmt.Errorf("%w: backup belongs to %s", backup.ErrIdentityMismatch, doc.UserID)
			}

			priv, err := rsakms.ImportPrivateKeyWrapped(doc.EncryptedPrivateKey, secret)
			if err != nil {
				return err
			}

			if _, err = newBackupService(env, time.Now()).Import(raw, env.userID); err != nil {
				return err
			}

			if err = env.dir.Publish(cmdContext(cmd), env.userID, &priv.PublicKey); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "restored keys for %s\n", env.userID)

			return nil
		},
	}

	cmd.Flags().StringP(backupFileFlagName, backupFileFlagShorthand, "", backupFileFlagUsage)

	return cmd
}

func keysInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Describe the stored private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}

			defer env.close()

			info, err := newBackupService(env, time.Now()).Info(env.userID)
			if err != nil {
				return err
			}

			if !info.Exists {
				fmt.Fprintf(cmd.OutOrStdout(), "no private key stored for %s\n", env.userID)

				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "private key stored for %s (%d bytes wrapped, stored at %s)\n",
				env.userID, info.KeyLength, info.StoredAt.Format(time.RFC3339))

			return nil
		},
	}
}

func newBackupService(env *environment, now time.Time) *backup.Service {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	return backup.New(env.keys,
		backup.WithDeviceInfo(backup.DeviceInfo{UserAgent: "flowsec-cli/" + host, Platform: runtime.GOOS}),
		backup.WithClock(func() time.Time { return now }))
}
