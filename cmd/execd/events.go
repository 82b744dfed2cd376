package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events <correlation-id>",
	Short: "Print the ordered event log for a correlation ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().Int("from", 0, "Only print events with sequence >= this value")
}

func runEvents(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	from, _ := cmd.Flags().GetInt("from")
	correlationID := args[0]

	ctx := context.Background()
	s, stop, err := buildStack(ctx, dataDir)
	if err != nil {
		return fmt.Errorf("build stack: %w", err)
	}
	defer stop()

	envs, err := s.coordinator.GetEvents(ctx, correlationID, from)
	if err != nil {
		return fmt.Errorf("get events: %w", err)
	}
	for _, env := range envs {
		b, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		fmt.Println(string(b))
	}
	return nil
}
