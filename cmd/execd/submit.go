package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/execd/pkg/types"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a trading intent and wait for it to reach a terminal state",
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringP("file", "f", "", "Path to a YAML or JSON intent document")
	submitCmd.Flags().String("json", "", "Inline JSON intent document")
	submitCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for a terminal state")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	file, _ := cmd.Flags().GetString("file")
	inlineJSON, _ := cmd.Flags().GetString("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	intent, err := parseIntent(file, inlineJSON)
	if err != nil {
		return fmt.Errorf("parse intent: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s, stop, err := buildStack(ctx, dataDir)
	if err != nil {
		return fmt.Errorf("build stack: %w", err)
	}
	defer stop()

	intentID, err := s.intentMgr.Submit(ctx, intent)
	if err != nil {
		return fmt.Errorf("submit intent: %w", err)
	}
	fmt.Printf("submitted intent %s, awaiting terminal state...\n", intentID)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for intent %s to reach a terminal state", intentID)
		case <-ticker.C:
			rm, err := s.coordinator.GetIntent(intentID)
			if err != nil {
				continue
			}
			if rm.State.IsTerminal() {
				printOutcome(rm)
				return nil
			}
		}
	}
}

// parseIntent reads an intent document from --file (YAML or JSON, by
// extension) or --json, decoding into types.Intent by its JSON field
// names (a YAML document is decoded generically and re-encoded as JSON).
func parseIntent(file, inlineJSON string) (types.Intent, error) {
	var raw []byte
	var asJSON bool
	switch {
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return types.Intent{}, err
		}
		raw = b
		asJSON = hasJSONExt(file)
	case inlineJSON != "":
		raw = []byte(inlineJSON)
		asJSON = true
	default:
		return types.Intent{}, fmt.Errorf("one of --file or --json is required")
	}

	var intent types.Intent
	var err error
	if asJSON {
		err = json.Unmarshal(raw, &intent)
	} else {
		var doc map[string]any
		if err = yaml.Unmarshal(raw, &doc); err == nil {
			var b []byte
			if b, err = json.Marshal(doc); err == nil {
				err = json.Unmarshal(b, &intent)
			}
		}
	}
	if err != nil {
		return types.Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	return intent, nil
}

func hasJSONExt(path string) bool {
	if len(path) < 5 {
		return false
	}
	return path[len(path)-5:] == ".json"
}

func printOutcome(rm *types.IntentReadModel) {
	switch rm.State {
	case types.IntentStateCompleted:
		fmt.Printf("intent completed: tx=%s amount_out=%s\n", rm.TxHash, rm.AmountOut)
	case types.IntentStateRejected:
		fmt.Printf("intent rejected: reason=%s\n", rm.Reason)
	case types.IntentStateFailed:
		fmt.Printf("intent failed: plan=%s\n", rm.LatestPlanID)
	default:
		fmt.Printf("intent reached state %s\n", rm.State)
	}
}
