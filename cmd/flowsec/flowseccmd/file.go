/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package flowseccmd

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowsec/flowsec-go/pkg/scan/virustotal"
	"github.com/flowsec/flowsec-go/pkg/transfer"
)

const (
	fileToFlagName      = "to"
	fileToFlagShorthand = "t"
	fileToFlagUsage     = "ID of the receiving user."

	fileInFlagName      = "in"
	fileInFlagShorthand = "i"
	fileInFlagUsage     = "Path of the file to send."

	fileIDFlagName  = "id"
	fileIDFlagUsage = "ID of the file record to receive."

	fileOutFlagName      = "out"
	fileOutFlagShorthand = "o"
	fileOutFlagUsage     = "Path to write the decrypted file to. Defaults to the original file name."

	scanWaitFlagName  = "scan-wait"
	scanWaitFlagUsage = "How long to wait for the malware scan to finish, e.g. 2m. Does not wait when not set."

	vtAPIKeyFlagName  = "vt-api-key"
	vtAPIKeyEnvKey    = "FLOWSEC_VT_API_KEY" // nolint:gosec
	vtAPIKeyFlagUsage = "VirusTotal API key. Files are not scanned when neither this nor the scan proxy is set." +
		" Alternatively, this can be set with the following environment variable: " + vtAPIKeyEnvKey

	vtProxyURLFlagName  = "vt-proxy-url"
	vtProxyURLEnvKey    = "FLOWSEC_VT_PROXY_URL"
	vtProxyURLFlagUsage = "URL of the scan proxy. Takes precedence over the API key." +
		" Alternatively, this can be set with the following environment variable: " + vtProxyURLEnvKey

	scanIntervalFlagName  = "scan-poll-interval"
	scanIntervalFlagUsage = "Wait before each malware scan poll, e.g. 10s. Defaults to 10s."

	scanHashFlagName  = "hash"
	scanHashFlagUsage = "SHA-256 of a file to look up the stored scan report of, instead of a file record."

	scanWaitPollInterval = 200 * time.Millisecond
	defaultScanWait      = 3 * time.Minute
)

var (
	errMissingScanner   = errors.New("no malware scanner configured, set the scan proxy url or api key")
	errMissingScanInput = errors.New("file id or hash is required")
	errMissingRecipient = errors.New("receiver is required")
	errMissingInput     = errors.New("input file is required")
	errMissingFileID    = errors.New("file id is required")
)

func fileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Send and receive encrypted files",
	}

	cmd.AddCommand(fileSendCmd(), fileReceiveCmd(), fileListCmd(), fileScanCmd())

	return cmd
}

func fileSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Encrypt a file for a user and upload it",
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := cmd.Flags().GetString(fileToFlagName)
			if err != nil {
				return err
			}

			in, err := cmd.Flags().GetString(fileInFlagName)
			if err != nil {
				return err
			}

			switch {
			case to == "":
				return errMissingRecipient
			case in == "":
				return errMissingInput
			}

			wait, err := getScanWait(cmd)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(in) // nolint:gosec
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", in, err)
			}

			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}

			defer env.close()

			svc, err := newTransferService(cmd, env)
			if err != nil {
				return err
			}

			defer svc.Close()

			ctx := cmdContext(cmd)

			receiverPub, err := env.dir.PublicKey(ctx, to)
			if err != nil {
				return err
			}

			// the sender copy is best effort
			senderPub, err := env.dir.PublicKey(ctx, env.userID)
			if err != nil {
				logger.Warnf("no published public key for %s, the sent file will not be readable by its sender",
					env.userID)
			}

			name := filepath.Base(in)

			rec, err := svc.Send(ctx, transfer.File{
				Name: name,
				Type: mime.TypeByExtension(filepath.Ext(name)),
				Data: data,
			}, env.userID, to, receiverPub, senderPub)
			if err != nil {
				return err
			}

			if wait > 0 {
				if rec, err = waitForScan(cmd, svc, rec.ID, wait); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\nid: %s\nscan: %s\n", name, to, rec.ID, scanSummary(rec))

			if svc.Polling(rec.ID) {
				fmt.Fprintf(cmd.OutOrStdout(), "run 'flowsec file scan --id %s' to refresh the scan result\n", rec.ID)
			}

			return nil
		},
	}

	cmd.Flags().StringP(fileToFlagName, fileToFlagShorthand, "", fileToFlagUsage)
	cmd.Flags().StringP(fileInFlagName, fileInFlagShorthand, "", fileInFlagUsage)
	createScanFlags(cmd)

	return cmd
}

func fileReceiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Download and decrypt a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cmd.Flags().GetString(fileIDFlagName)
			if err != nil {
				return err
			}

			if id == "" {
				return errMissingFileID
			}

			out, err := cmd.Flags().GetString(fileOutFlagName)
			if err != nil {
				return err
			}

			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}

			defer env.close()

			sc, err := env.unlock(cmd)
			if err != nil {
				return err
			}

			defer sc.Clear()

			priv, err := sc.PrivateKey()
			if err != nil {
				return err
			}

			svc := transfer.New(env.records, env.objects)
			defer svc.Close()

			ctx := cmdContext(cmd)

			rec, err := svc.Get(ctx, id)
			if err != nil {
				return err
			}

			data, err := svc.Receive(ctx, rec, priv, env.userID)
			if err != nil {
				return err
			}

			if out == "" {
				out = rec.FileName
			}

			if err = os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "received %s (%d bytes) to %s\nscan: %s\n", rec.FileName, len(data), out,
				scanSummary(rec))

			return nil
		},
	}

	cmd.Flags().StringP(fileIDFlagName, "", "", fileIDFlagUsage)
	cmd.Flags().StringP(fileOutFlagName, fileOutFlagShorthand, "", fileOutFlagUsage)

	return cmd
}

func fileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List files sent or received by the user, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}

			defer env.close()

			svc := transfer.New(env.records, env.objects)
			defer svc.Close()

			recs, err := svc.ListUserFiles(cmdContext(cmd), env.userID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tFROM\tTO\tSIZE\tSCAN\tCREATED")

			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.FileName, r.SenderID, r.ReceiverID,
					r.FileSize, scanSummary(r), r.CreatedAt.Format(time.RFC3339))
			}

			return w.Flush()
		},
	}
}

func fileScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Refresh the malware scan of a sent file",
		Long: `Resume polling the malware scan of a file record and wait for its verdict, or look up the` +
			` stored scan report of a file by its SHA-256`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cmd.Flags().GetString(fileIDFlagName)
			if err != nil {
				return err
			}

			hash, err := cmd.Flags().GetString(scanHashFlagName)
			if err != nil {
				return err
			}

			if id == "" && hash == "" {
				return errMissingScanInput
			}

			scanner, err := newScanner(cmd)
			if err != nil {
				return err
			}

			if scanner == nil {
				return errMissingScanner
			}

			if hash != "" {
				return printFileReport(cmd, scanner, hash)
			}

			wait, err := getScanWait(cmd)
			if err != nil {
				return err
			}

			if wait == 0 {
				wait = defaultScanWait
			}

			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}

			defer env.close()

			svc, err := newTransferService(cmd, env)
			if err != nil {
				return err
			}

			defer svc.Close()

			err = svc.ResumePolling(cmdContext(cmd), id)
			if err != nil && !errors.Is(err, transfer.ErrNotPollable) {
				return err
			}

			rec, err := waitForScan(cmd, svc, id, wait)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "id: %s\nscan: %s\n", rec.ID, scanSummary(rec))

			if rec.VTPermalink != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "report: %s\n", rec.VTPermalink)
			}

			return nil
		},
	}

	cmd.Flags().StringP(fileIDFlagName, "", "", fileIDFlagUsage)
	cmd.Flags().StringP(scanHashFlagName, "", "", scanHashFlagUsage)
	createScanFlags(cmd)

	return cmd
}

func createScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(scanWaitFlagName, "", "", scanWaitFlagUsage)
	cmd.Flags().StringP(scanIntervalFlagName, "", "", scanIntervalFlagUsage)
	cmd.Flags().StringP(vtAPIKeyFlagName, "", "", vtAPIKeyFlagUsage)
	cmd.Flags().StringP(vtProxyURLFlagName, "", "", vtProxyURLFlagUsage)
}

// waitForScan waits up to wait for the poller of id to finish and returns the record as stored.
func waitForScan(cmd *cobra.Command, svc *transfer.Service, id string,
	wait time.Duration) (*transfer.FileRecord, error) {
	deadline := time.Now().Add(wait)
	for svc.Polling(id) && time.Now().Before(deadline) {
		time.Sleep(scanWaitPollInterval)
	}

	return svc.Get(cmdContext(cmd), id)
}

func printFileReport(cmd *cobra.Command, scanner *virustotal.Client, hash string) error {
	report, err := scanner.FileReport(cmdContext(cmd), hash)
	if err != nil {
		return err
	}

	if report == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "no scan report for %s\n", hash)

		return nil
	}

	info := transfer.ParseThreatInfo(report.Stats)

	fmt.Fprintf(cmd.OutOrStdout(), "sha256: %s\nscan: %s (%d/%d)\nreport: %s\n", hash, info.Label,
		info.Positives, info.Total, report.Permalink)

	return nil
}

func getScanWait(cmd *cobra.Command) (time.Duration, error) {
	v, err := cmd.Flags().GetString(scanWaitFlagName)
	if err != nil || v == "" {
		return 0, err
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse scan wait %s: %w", v, err)
	}

	return d, nil
}

// newScanner returns the configured VirusTotal client, or nil when none is configured.
func newScanner(cmd *cobra.Command) (*virustotal.Client, error) {
	proxyURL, err := getUserSetVar(cmd, vtProxyURLFlagName, vtProxyURLEnvKey, true)
	if err != nil {
		return nil, err
	}

	apiKey, err := getUserSetVar(cmd, vtAPIKeyFlagName, vtAPIKeyEnvKey, true)
	if err != nil {
		return nil, err
	}

	switch {
	case proxyURL != "":
		return virustotal.New(virustotal.WithProxy(proxyURL))
	case apiKey != "":
		return virustotal.New(virustotal.WithAPIKey(apiKey))
	default:
		return nil, nil
	}
}

// newTransferService returns a transfer service scanning through the configured scanner, if any.
func newTransferService(cmd *cobra.Command, env *environment) (*transfer.Service, error) {
	scanner, err := newScanner(cmd)
	if err != nil {
		return nil, err
	}

	if scanner == nil {
		return transfer.New(env.records, env.objects), nil
	}

	opts := []transfer.Option{transfer.WithScanner(scanner)}

	interval, err := cmd.Flags().GetString(scanIntervalFlagName)
	if err != nil {
		return nil, err
	}

	if interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("failed to parse scan poll interval %s: %w", interval, err)
		}

		opts = append(opts, transfer.WithPollInterval(d))
	}

	return transfer.New(env.records, env.objects, opts...), nil
}

func scanSummary(r *transfer.FileRecord) string {
	t := r.Ticket()

	if t.ThreatLabel == "" {
		return string(t.Status)
	}

	return fmt.Sprintf("%s, %s (%d/%d)", t.Status, t.ThreatLabel, t.Positives, t.Total)
}
