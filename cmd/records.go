package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/luma/worldql/identity"
	"github.com/luma/worldql/internal/bridge"
	"github.com/luma/worldql/protocol"
	"github.com/luma/worldql/storage"
)

var ErrLookupRequired = errors.New("Either --area or at least one --uuid is required")

var (
	recordsArea []float64
	recordsIDs  []string
	recordsData string
)

func init() {
	RecordsGetCmd.Flags().Float64SliceVar(&recordsArea, "area", nil, "Fetch the records in the area at x,y,z")
	RecordsGetCmd.Flags().StringSliceVar(&recordsIDs, "uuid", nil, "Fetch records by uuid")
	RecordsSetCmd.Flags().StringVar(&recordsData, "data", "", "Text data to store with the record")
	RecordsClearCmd.Flags().Float64SliceVar(&recordsArea, "area", nil, "Only clear the area at x,y,z")

	RecordsCmd.AddCommand(RecordsGetCmd)
	RecordsCmd.AddCommand(RecordsSetCmd)
	RecordsCmd.AddCommand(RecordsDeleteCmd)
	RecordsCmd.AddCommand(RecordsClearCmd)
}

var RecordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Read and write records",
}

var RecordsGetCmd = &cobra.Command{
	Use:   "get <world>",
	Short: "Fetch records and print them as a JSON document keyed by world and uuid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		area, err := optionalVector(recordsArea)
		if err != nil {
			return err
		}

		ids, err := parseIDs(recordsIDs)
		if err != nil {
			return err
		}

		if area == nil && len(ids) == 0 {
			return ErrLookupRequired
		}

		return withMirror(func(ctx context.Context, mirror *bridge.Mirror) error {
			if area != nil {
				if _, err := mirror.GetArea(ctx, args[0], area); err != nil {
					return err
				}
			}

			if len(ids) > 0 {
				if _, err := mirror.GetUUIDs(ctx, args[0], ids...); err != nil {
					return err
				}
			}

			backup, err := mirror.Store().Backup()
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(backup))
			return err
		})
	},
}

var RecordsSetCmd = &cobra.Command{
	Use:   "set <world> <uuid> <x> <y> <z>",
	Short: "Create or replace a record",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity.Parse(args[1])
		if err != nil {
			return err
		}

		var position protocol.Tuple
		for i, arg := range args[2:] {
			if position[i], err = strconv.ParseFloat(arg, 64); err != nil {
				return fmt.Errorf("Failed to parse coordinate '%s': %w", arg, err)
			}
		}

		record := protocol.Record{
			UUID:      id,
			WorldName: args[0],
			Position:  position.Vector3(),
		}

		if cmd.Flags().Changed("data") {
			record.Data = &recordsData
		}

		return withMirror(func(ctx context.Context, mirror *bridge.Mirror) error {
			return mirror.Set(ctx, record)
		})
	},
}

var RecordsDeleteCmd = &cobra.Command{
	Use:   "delete <world> <uuid...>",
	Short: "Delete records by uuid",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[1:])
		if err != nil {
			return err
		}

		records := make([]protocol.Record, 0, len(ids))
		for _, id := range ids {
			records = append(records, protocol.Record{UUID: id, WorldName: args[0]})
		}

		return withMirror(func(ctx context.Context, mirror *bridge.Mirror) error {
			return mirror.Delete(ctx, records...)
		})
	},
}

var RecordsClearCmd = &cobra.Command{
	Use:   "clear <world>",
	Short: "Delete every record in a world, or in one area of it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		area, err := optionalVector(recordsArea)
		if err != nil {
			return err
		}

		return withMirror(func(ctx context.Context, mirror *bridge.Mirror) error {
			if area != nil {
				return mirror.ClearArea(ctx, args[0], area)
			}

			return mirror.ClearWorld(ctx, args[0])
		})
	},
}

func parseIDs(raw []string) ([]identity.ID, error) {
	ids := make([]identity.ID, 0, len(raw))

	for _, s := range raw {
		id, err := identity.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// withMirror connects and runs fn against a fresh record mirror.
func withMirror(fn func(ctx context.Context, mirror *bridge.Mirror) error) (err error) {
	ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer signalStop()

	conn, _, _, err := connect(ctx)
	if err != nil {
		return err
	}

	store := storage.NewInmemoryStore()

	defer func() {
		err = multierr.Combine(err, store.Close(), conn.Disconnect())
	}()

	return fn(ctx, bridge.NewMirror(conn, store))
}
