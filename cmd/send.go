package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/luma/worldql/protocol"
)

var (
	sendParameter   string
	sendFlex        string
	sendReplication string
)

func init() {
	flags := SendCmd.PersistentFlags()

	flags.StringVarP(&sendParameter, "parameter", "p", "", "Text parameter to send")
	flags.StringVar(&sendFlex, "flex", "", "Base64 encoded binary payload to send")
	flags.StringVarP(&sendReplication, "replication", "r", string(protocol.ExceptSelf), "except_self, including_self or only_self")

	SendCmd.AddCommand(SendGlobalCmd)
	SendCmd.AddCommand(SendLocalCmd)
}

var SendCmd = &cobra.Command{
	Use:   "send",
	Short: "Broadcast messages to a world",
}

var SendGlobalCmd = &cobra.Command{
	Use:   "global <world>",
	Short: "Send a message to every client subscribed to a world",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return broadcast(func(send sender, replication protocol.Replication, payload protocol.Payload) error {
			return send.GlobalMessage(args[0], replication, payload)
		})
	},
}

var SendLocalCmd = &cobra.Command{
	Use:   "local <world> <x> <y> <z>",
	Short: "Send a message to every client subscribed to the area around a position",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		var position protocol.Tuple
		for i, arg := range args[1:] {
			value, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return fmt.Errorf("Failed to parse coordinate '%s': %w", arg, err)
			}
			position[i] = value
		}

		return broadcast(func(send sender, replication protocol.Replication, payload protocol.Payload) error {
			return send.LocalMessage(args[0], position, replication, payload)
		})
	},
}

type sender interface {
	GlobalMessage(worldName string, replication protocol.Replication, payload protocol.Payload) error
	LocalMessage(worldName string, position protocol.VectorLike, replication protocol.Replication, payload protocol.Payload) error
}

// broadcast connects, sends one message and waits for it to be flushed.
func broadcast(fn func(send sender, replication protocol.Replication, payload protocol.Payload) error) error {
	replication := protocol.Replication(sendReplication)
	if !replication.Valid() {
		return fmt.Errorf("Unknown replication '%s'", sendReplication)
	}

	var payload protocol.Payload
	if sendParameter != "" {
		payload.Parameter = &sendParameter
	}

	if sendFlex != "" {
		flex, err := base64.StdEncoding.DecodeString(sendFlex)
		if err != nil {
			return fmt.Errorf("Failed to decode --flex: %w", err)
		}
		payload.Flex = protocol.NewBlob(flex)
	}

	ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer signalStop()

	conn, _, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	if err := fn(conn, replication, payload); err != nil {
		return err
	}

	// Broadcasts are never answered. A heartbeat queued behind the message
	// is, and its reply means the message left the write queue.
	return conn.Heartbeat(ctx)
}
