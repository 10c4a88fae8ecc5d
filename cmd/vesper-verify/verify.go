package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jihwankim/vesper-verify/pkg/core/orchestrator"
	"github.com/jihwankim/vesper-verify/pkg/differential"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Args:  cobra.NoArgs,
	Short: "Run a batch of inputs through the Differential Harness",
	Long:  `Loads a JSON array of input objects and dual-executes every one against the given node, reporting pass/fail/divergence counts.`,
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().String("node", "demo_node_v1", "node ID to exercise")
	verifyCmd.Flags().String("inputs", "", "path to a JSON file containing an array of input objects")
	verifyCmd.Flags().Int("workers", differential.DefaultWorkers, "concurrent dual-execution workers")
}

func runVerify(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node")
	inputsPath, _ := cmd.Flags().GetString("inputs")
	workers, _ := cmd.Flags().GetInt("workers")
	if inputsPath == "" {
		return fmt.Errorf("--inputs flag is required")
	}

	cfg, err := loadFrameworkConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := newLogger(cfg)
	logger.Info("vesper-verify starting", "version", version, "node", nodeID)

	ctx := context.Background()
	orch, err := buildOrchestrator(ctx, cfg, nodeID)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	raw, err := os.ReadFile(inputsPath)
	if err != nil {
		return fmt.Errorf("failed to read inputs file: %w", err)
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("failed to parse inputs file: %w", err)
	}

	batch := make([]differential.Input, len(items))
	for i, item := range items {
		batch[i] = differential.Input{Index: i, Value: item}
	}

	harness := differential.NewHarness(orchestrator.NewDifferentialAdapter(orch), workers)
	logger.Info("running differential batch", "total", len(batch), "workers", workers)

	result := harness.Run(ctx, nodeID, batch, func(c differential.CaseResult) {
		logger.Warn("divergence detected", "index", c.Index, "diff_kinds", fmt.Sprint(c.DiffKinds))
	})

	fmt.Printf("node:        %s\n", result.NodeID)
	fmt.Printf("total:       %d\n", result.Total)
	fmt.Printf("passed:      %d\n", result.Passed)
	fmt.Printf("failed:      %d\n", result.Failed)
	fmt.Printf("divergences: %d\n", len(result.Divergences))
	fmt.Printf("errors:      %d\n", len(result.Errors))
	fmt.Printf("duration_ms: %.2f\n", result.DurationMs)
	return nil
}
