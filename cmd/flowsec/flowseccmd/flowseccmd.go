/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package flowseccmd provides the commands of the flowsec CLI.
package flowseccmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/flowsec/flowsec-go/pkg/common/log"
	"github.com/flowsec/flowsec-go/pkg/keydir"
	"github.com/flowsec/flowsec-go/pkg/kms/keystore"
	"github.com/flowsec/flowsec-go/pkg/session"
	"github.com/flowsec/flowsec-go/pkg/storage/leveldb"
	"github.com/flowsec/flowsec-go/pkg/storage/mem"
	"github.com/flowsec/flowsec-go/pkg/store/objectstore"
	"github.com/flowsec/flowsec-go/pkg/store/recordstore"
	"github.com/flowsec/flowsec-go/spi/backend"
	"github.com/flowsec/flowsec-go/spi/storage"
)

const (
	databaseTypeFlagName      = "database-type"
	databaseTypeEnvKey        = "FLOWSEC_DATABASE_TYPE"
	databaseTypeFlagShorthand = "q"
	databaseTypeFlagUsage     = "The type of database to use. Supported options: mem, leveldb." +
		" Alternatively, this can be set with the following environment variable: " + databaseTypeEnvKey

	databasePathFlagName      = "database-path"
	databasePathEnvKey        = "FLOWSEC_DATABASE_PATH"
	databasePathFlagShorthand = "d"
	databasePathFlagUsage     = "Directory of the leveldb database. Not needed if using mem." +
		" Alternatively, this can be set with the following environment variable: " + databasePathEnvKey

	databaseTimeoutFlagName  = "database-timeout"
	databaseTimeoutEnvKey    = "FLOWSEC_DATABASE_TIMEOUT"
	databaseTimeoutDefault   = "30"
	databaseTimeoutFlagUsage = "Total time in seconds to wait until the db is available before giving up." +
		" Default: " + databaseTimeoutDefault + " seconds." +
		" Alternatively, this can be set with the following environment variable: " + databaseTimeoutEnvKey

	userFlagName      = "user"
	userEnvKey        = "FLOWSEC_USER"
	userFlagShorthand = "u"
	userFlagUsage     = "ID of the user running the command." +
		" Alternatively, this can be set with the following environment variable: " + userEnvKey

	secretFlagName      = "secret"
	secretEnvKey        = "FLOWSEC_SECRET" // nolint:gosec
	secretFlagShorthand = "s"
	secretFlagUsage     = "Secret protecting the private key of the user." +
		" Alternatively, this can be set with the following environment variable: " + secretEnvKey

	logLevelFlagName  = "log-level"
	logLevelEnvKey    = "FLOWSEC_LOG_LEVEL"
	logLevelFlagUsage = "Log level." +
		" Possible values [INFO] [DEBUG] [ERROR] [WARNING] [CRITICAL] . Defaults to INFO if not set." +
		" Alternatively, this can be set with the following environment variable: " + logLevelEnvKey

	databaseTypeMemOption     = "mem"
	databaseTypeLevelDBOption = "leveldb"
)

var logger = log.New("flowsec/cmd")

var errMissingDatabasePath = errors.New("database path is required for leveldb")

// nolint:gochecknoglobals
var supportedStorageProviders = map[string]func(path string) (storage.Provider, error){
	databaseTypeMemOption: func(_ string) (storage.Provider, error) { // nolint:unparam
		return mem.NewProvider(), nil
	},
	databaseTypeLevelDBOption: func(path string) (storage.Provider, error) {
		if path == "" {
			return nil, errMissingDatabasePath
		}

		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, err
		}

		return leveldb.NewProvider(filepath.Join(path, "flowsec")), nil
	},
}

type server interface {
	ListenAndServe(host string, router http.Handler) error
}

// HTTPServer represents an actual server implementation.
type HTTPServer struct{}

// ListenAndServe starts the server using the standard Go HTTP server implementation.
func (s *HTTPServer) ListenAndServe(host string, router http.Handler) error {
	return http.ListenAndServe(host, router) // nolint:gosec
}

// Cmd returns the root command of the flowsec CLI.
func Cmd(server server) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowsec",
		Short: "End-to-end encrypted file and message exchange",
		Long:  `Manage encryption keys, send and receive end-to-end encrypted files and messages, and run the scan proxy`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
		SilenceUsage: true,
	}

	createFlags(rootCmd)

	rootCmd.AddCommand(keysCmd(), fileCmd(), messageCmd(), startScanProxyCmd(server))

	return rootCmd
}

func createFlags(rootCmd *cobra.Command) {
	// db type
	rootCmd.PersistentFlags().StringP(databaseTypeFlagName, databaseTypeFlagShorthand, "", databaseTypeFlagUsage)

	// db path
	rootCmd.PersistentFlags().StringP(databasePathFlagName, databasePathFlagShorthand, "", databasePathFlagUsage)

	// db timeout
	rootCmd.PersistentFlags().StringP(databaseTimeoutFlagName, "", "", databaseTimeoutFlagUsage)

	// user
	rootCmd.PersistentFlags().StringP(userFlagName, userFlagShorthand, "", userFlagUsage)

	// secret
	rootCmd.PersistentFlags().StringP(secretFlagName, secretFlagShorthand, "", secretFlagUsage)

	// log level
	rootCmd.PersistentFlags().StringP(logLevelFlagName, "", "", logLevelFlagUsage)
}

// environment is the local back end the commands run against.
type environment struct {
	provider storage.Provider
	records  *recordstore.Store
	objects  *objectstore.Store
	keys     *keystore.Store
	dir      *keydir.Directory
	userID   string
}

func (e *environment) close() {
	if err := e.provider.Close(); err != nil {
		logger.Warnf("failed to close storage: %s", err)
	}
}

func (e *environment) sessions() *session.Manager {
	return session.NewManager(localIdentity{userID: e.userID}, e.keys, e.dir)
}

func (e *environment) unlock(cmd *cobra.Command) (*session.Context, error) {
	secret, err := getUserSetVar(cmd, secretFlagName, secretEnvKey, false)
	if err != nil {
		return nil, err
	}

	return e.sessions().Unlock(cmdContext(cmd), secret)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}

// openEnvironment applies the log level and opens the configured storage for the
// configured user.
func openEnvironment(cmd *cobra.Command) (*environment, error) {
	logLevel, err := getUserSetVar(cmd, logLevelFlagName, logLevelEnvKey, true)
	if err != nil {
		return nil, err
	}

	if err = setLogLevel(logLevel); err != nil {
		return nil, err
	}

	userID, err := getUserSetVar(cmd, userFlagName, userEnvKey, false)
	if err != nil {
		return nil, err
	}

	provider, err := createStoreProvider(cmd)
	if err != nil {
		return nil, err
	}

	keys, err := keystore.New(provider)
	if err != nil {
		return nil, err
	}

	objects, err := objectstore.New(provider, objectstore.DefaultBucket)
	if err != nil {
		return nil, err
	}

	records := recordstore.New(provider)

	return &environment{
		provider: provider,
		records:  records,
		objects:  objects,
		keys:     keys,
		dir:      keydir.New(records),
		userID:   userID,
	}, nil
}

func createStoreProvider(cmd *cobra.Command) (storage.Provider, error) {
	dbType, err := getUserSetVar(cmd, databaseTypeFlagName, databaseTypeEnvKey, false)
	if err != nil {
		return nil, err
	}

	provider, supported := supportedStorageProviders[dbType]
	if !supported {
		return nil, fmt.Errorf("database type not set to a valid type." +
			" run with --help to see the available options")
	}

	path, err := getUserSetVar(cmd, databasePathFlagName, databasePathEnvKey, true)
	if err != nil {
		return nil, err
	}

	dbTimeout, err := getUserSetVar(cmd, databaseTimeoutFlagName, databaseTimeoutEnvKey, true)
	if err != nil {
		return nil, err
	}

	if dbTimeout == "" || dbTimeout == "0" {
		dbTimeout = databaseTimeoutDefault
	}

	timeout, err := strconv.Atoi(dbTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse db timeout %s: %w", dbTimeout, err)
	}

	var store storage.Provider

	err = backoff.RetryNotify(
		func() error {
			var openErr error
			store, openErr = provider(path)

			if errors.Is(openErr, errMissingDatabasePath) {
				return backoff.Permanent(openErr)
			}

			return openErr
		},
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), uint64(timeout)),
		func(retryErr error, t time.Duration) {
			logger.Warnf("failed to open storage, will sleep for %s before trying again : %s", t, retryErr)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage at %s : %w", path, err)
	}

	return store, nil
}

func getUserSetVar(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf(flagName+" flag not found: %s", err)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		return value, nil
	}

	return "", errors.New("Neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set.")
}

func setLogLevel(logLevel string) error {
	if logLevel != "" {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("failed to parse log level '%s' : %w", logLevel, err)
		}

		log.SetLevel("", level)

		logger.Debugf("logger level set to %s", logLevel)
	}

	return nil
}

// localIdentity is the identity of a CLI user, always signed in.
type localIdentity struct {
	userID string
}

func (l localIdentity) GetSession(context.Context) (*backend.Session, error) {
	return &backend.Session{UserID: l.userID}, nil
}

func (l localIdentity) GetUser(context.Context) (*backend.User, error) {
	return &backend.User{ID: l.userID}, nil
}

func (l localIdentity) SignOut(context.Context) error {
	return nil
}
