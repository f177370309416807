/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package main is the flowsec CLI.
package main

import (
	"context"

	"github.com/flowsec/flowsec-go/cmd/flowsec/flowseccmd"
	"github.com/flowsec/flowsec-go/pkg/common/log"
)

func main() {
	logger := log.New("flowsec/cli")

	if err := flowseccmd.Cmd(&flowseccmd.HTTPServer{}).ExecuteContext(context.Background()); err != nil {
		logger.Fatalf("Failed to run flowsec: %s", err)
	}
}
