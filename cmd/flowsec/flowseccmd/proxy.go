/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package flowseccmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowsec/flowsec-go/pkg/scan/virustotal"
)

const (
	proxyHostFlagName      = "api-host"
	proxyHostEnvKey        = "FLOWSEC_API_HOST"
	proxyHostFlagShorthand = "a"
	proxyHostFlagUsage     = "Host Name:Port." +
		" Alternatively, this can be set with the following environment variable: " + proxyHostEnvKey

	proxyUpstreamFlagName  = "vt-upstream-url"
	proxyUpstreamEnvKey    = "FLOWSEC_VT_UPSTREAM_URL"
	proxyUpstreamFlagUsage = "VirusTotal API root to forward to. Defaults to " + virustotal.DefaultBaseURL + "." +
		" Alternatively, this can be set with the following environment variable: " + proxyUpstreamEnvKey

	proxyPrefixFlagName  = "path-prefix"
	proxyPrefixEnvKey    = "FLOWSEC_PATH_PREFIX"
	proxyPrefixFlagUsage = "Optional path prefix of the proxy routes, e.g. /virustotal-scan." +
		" Alternatively, this can be set with the following environment variable: " + proxyPrefixEnvKey
)

var (
	errMissingHost   = errors.New("host not provided")
	errMissingAPIKey = errors.New("VirusTotal API key not provided")
)

func startScanProxyCmd(server server) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start-scan-proxy",
		Short: "Start the scan proxy",
		Long:  `Start an HTTP proxy that forwards malware scan requests to VirusTotal with the configured API key`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logLevel, err := getUserSetVar(cmd, logLevelFlagName, logLevelEnvKey, true)
			if err != nil {
				return err
			}

			if err = setLogLevel(logLevel); err != nil {
				return err
			}

			host, err := getUserSetVar(cmd, proxyHostFlagName, proxyHostEnvKey, false)
			if err != nil {
				return err
			}

			apiKey, err := getUserSetVar(cmd, vtAPIKeyFlagName, vtAPIKeyEnvKey, false)
			if err != nil {
				return err
			}

			upstream, err := getUserSetVar(cmd, proxyUpstreamFlagName, proxyUpstreamEnvKey, true)
			if err != nil {
				return err
			}

			prefix, err := getUserSetVar(cmd, proxyPrefixFlagName, proxyPrefixEnvKey, true)
			if err != nil {
				return err
			}

			switch {
			case host == "":
				return errMissingHost
			case apiKey == "":
				return errMissingAPIKey
			}

			opts := []virustotal.ProxyOption{virustotal.WithPathPrefix(prefix)}
			if upstream != "" {
				opts = append(opts, virustotal.WithUpstream(upstream))
			}

			logger.Infof("Starting scan proxy on host [%s]", host)

			if err = server.ListenAndServe(host, virustotal.NewProxyHandler(apiKey, opts...)); err != nil {
				return fmt.Errorf("failed to start scan proxy on [%s], cause:  %w", host, err)
			}

			return nil
		},
	}

	cmd.Flags().StringP(proxyHostFlagName, proxyHostFlagShorthand, "", proxyHostFlagUsage)
	cmd.Flags().StringP(vtAPIKeyFlagName, "", "", vtAPIKeyFlagUsage)
	cmd.Flags().StringP(proxyUpstreamFlagName, "", "", proxyUpstreamFlagUsage)
	cmd.Flags().StringP(proxyPrefixFlagName, "", "", proxyPrefixFlagUsage)

	return cmd
}
