package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var confidenceCmd = &cobra.Command{
	Use:   "confidence",
	Args:  cobra.NoArgs,
	Short: "Print the confidence snapshot for all tracked nodes",
	RunE:  runConfidence,
}

func init() {
	confidenceCmd.Flags().String("node", "demo_node_v1", "node ID to exercise")
}

func runConfidence(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node")

	cfg, err := loadFrameworkConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	orch, err := buildOrchestrator(context.Background(), cfg, nodeID)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	snapshot := orch.Confidence().Snapshot()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal confidence snapshot: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
