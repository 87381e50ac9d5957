// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlayRelay Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/playrelay/playrelay/internal/config"
)

// ServerStatus holds the health information reported by the status command.
type ServerStatus struct {
	Running bool   `json:"running"`
	Ready   bool   `json:"ready"`
	Error   string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	metricsAddr string
	jsonOutput  bool
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running PlayRelay server",
		Long:  `Query the health endpoints of a running server and report its status.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "metrics/health HTTP address of the server")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := queryStatus(cfg.metricsAddr)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	switch {
	case !status.Running:
		cmd.Printf("playrelay: not running (%s)\n", status.Error)
	case status.Ready:
		cmd.Println("playrelay: running, ready")
	default:
		cmd.Println("playrelay: running, not ready")
	}
	return nil
}

// queryStatus probes the liveness and readiness endpoints.
func queryStatus(addr string) ServerStatus {
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get("http://" + addr + "/healthz/liveness")
	if err != nil {
		return ServerStatus{Error: err.Error()}
	}
	drainAndClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return ServerStatus{Error: fmt.Sprintf("liveness returned %d", resp.StatusCode)}
	}

	status := ServerStatus{Running: true}
	resp, err = client.Get("http://" + addr + "/healthz/readiness")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	drainAndClose(resp.Body)
	status.Ready = resp.StatusCode == http.StatusOK
	return status
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
