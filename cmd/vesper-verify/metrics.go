package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Args:  cobra.NoArgs,
	Short: "Print the current Prometheus text exposition or JSON metrics dump",
	RunE:  runMetrics,
}

func init() {
	metricsCmd.Flags().String("node", "demo_node_v1", "node ID to exercise")
	metricsCmd.Flags().String("format", "text", "output format (text, json)")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node")
	format, _ := cmd.Flags().GetString("format")

	cfg, err := loadFrameworkConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	orch, err := buildOrchestrator(context.Background(), cfg, nodeID)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	switch format {
	case "json":
		data, err := orch.Metrics().ExportJSON()
		if err != nil {
			return fmt.Errorf("failed to export metrics: %w", err)
		}
		fmt.Println(string(data))
	default:
		fmt.Print(orch.Metrics().PrometheusText())
	}
	return nil
}
