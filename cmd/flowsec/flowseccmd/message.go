/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package flowseccmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowsec/flowsec-go/pkg/messaging"
)

const (
	messageToFlagName      = "to"
	messageToFlagShorthand = "t"
	messageToFlagUsage     = "ID of the receiving user."

	messageTextFlagName  = "text"
	messageTextFlagUsage = "Text of the message."

	messageWithFlagName  = "with"
	messageWithFlagUsage = "ID of the other user of the conversation."
)

var errMissingPeer = errors.New("other user is required")

func messageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send and read encrypted messages",
	}

	cmd.AddCommand(messageSendCmd(), messageListCmd())

	return cmd
}

func messageSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Encrypt a message for a user and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := cmd.Flags().GetString(messageToFlagName)
			if err != nil {
				return err
			}

			if to == "" {
				return errMissingRecipient
			}

			text, err := cmd.Flags().GetString(messageTextFlagName)
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

			msg, err := messaging.New(env.records, env.dir).Send(cmdContext(cmd), sc, to, text)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sent message %s to %s\n", msg.ID, to)

			return nil
		},
	}

	cmd.Flags().StringP(messageToFlagName, messageToFlagShorthand, "", messageToFlagUsage)
	cmd.Flags().StringP(messageTextFlagName, "", "", messageTextFlagUsage)

	return cmd
}

func messageListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the conversation with a user, oldest first",
		Long:  `Print the conversation with a user, oldest first. Messages sent by the current user are sealed for their receiver only and are listed without text`,
		RunE: func(cmd *cobra.Command, args []string) error {
			with, err := cmd.Flags().GetString(messageWithFlagName)
			if err != nil {
				return err
			}

			if with == "" {
				return errMissingPeer
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

			svc := messaging.New(env.records, env.dir)

			msgs, err := svc.Conversation(cmdContext(cmd), env.userID, with)
			if err != nil {
				return err
			}

			for _, m := range msgs {
				text := "(sealed for " + m.ReceiverID + ")"

				if m.ReceiverID == env.userID {
					if text, err = svc.Decrypt(sc, m); err != nil {
						logger.Warnf("failed to decrypt message %s: %s", m.ID, err)

						text = "(undecryptable)"
					}
				}

				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.SenderID, text)
			}

			return nil
		},
	}

	cmd.Flags().StringP(messageWithFlagName, "", "", messageWithFlagUsage)

	return cmd
}
