package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/worldql/client"
	"github.com/luma/worldql/protocol"
)

var (
	listenAreas []float64
	listenRaw   bool
)

func init() {
	flags := ListenCmd.Flags()

	flags.Float64SliceVar(&listenAreas, "area", nil, "Also subscribe to the area at x,y,z in each world")
	flags.BoolVar(&listenRaw, "raw", false, "Print every inbound event, including ones this client does not understand")
}

var ListenCmd = &cobra.Command{
	Use:   "listen [world...]",
	Short: "Subscribe to worlds and print what arrives",
	Long: `Subscribe to worlds and print what arrives

Each notification is printed to stdout as one JSON object per line.

Usage
	worldql listen world1 world2 --area 0,0,0

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		area, err := optionalVector(listenAreas)
		if err != nil {
			return err
		}

		conn, _, log, err := connect(ctx)
		if err != nil {
			return err
		}
		defer conn.Disconnect()

		enc := json.NewEncoder(cmd.OutOrStdout())
		closed := make(chan string, 1)

		unsubscribe := conn.Subscribe(func(ev client.Event) {
			if _, raw := ev.(client.RawMessageEvent); raw && !listenRaw {
				return
			}

			if err := enc.Encode(renderEvent(ev)); err != nil {
				log.Warn("Failed to print event", zap.Error(err))
			}

			if disconnect, ok := ev.(client.DisconnectEvent); ok && !disconnect.ByServer {
				select {
				case closed <- disconnect.Reason:
				default:
				}
			}
		})
		defer unsubscribe()

		for _, world := range args {
			if err := conn.WorldSubscribe(ctx, world); err != nil {
				return fmt.Errorf("Failed to subscribe to '%s': %w", world, err)
			}

			if area != nil {
				if err := conn.AreaSubscribe(ctx, world, area); err != nil {
					return fmt.Errorf("Failed to subscribe to %s in '%s': %w", area, world, err)
				}
			}
		}

		select {
		case <-ctx.Done():
			log.Info("Interrupted, disconnecting")
			return nil

		case reason := <-closed:
			return fmt.Errorf("Connection closed: %s", reason)
		}
	},
}

// optionalVector turns an --area style flag into a position. No values means
// no position.
func optionalVector(values []float64) (*protocol.Vector3, error) {
	switch len(values) {
	case 0:
		return nil, nil

	case 3:
		position := protocol.Vec3(values[0], values[1], values[2])
		return &position, nil

	default:
		return nil, fmt.Errorf("Expected x,y,z but got %d values", len(values))
	}
}
