package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show stage latency stats from the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if !cfg.HTTP.Enabled {
			return fmt.Errorf("admin server disabled in config (http.enabled)")
		}

		addr := cfg.HTTP.Listen
		if strings.HasPrefix(addr, ":") {
			addr = "127.0.0.1" + addr
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get("http://" + addr + "/api/stats")
		if err != nil {
			return fmt.Errorf("query daemon: %w (is it running?)", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("daemon returned status %d", resp.StatusCode)
		}

		var body struct {
			UptimeSeconds int64 `json:"uptime_seconds"`
			Stages        map[string]struct {
				Count int     `json:"count"`
				AvgMs float64 `json:"avg_ms"`
				MinMs float64 `json:"min_ms"`
				MaxMs float64 `json:"max_ms"`
			} `json:"stages"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode stats: %w", err)
		}

		fmt.Fprintf(os.Stdout, "Uptime: %s\n\n", time.Duration(body.UptimeSeconds)*time.Second)
		if len(body.Stages) == 0 {
			fmt.Fprintln(os.Stdout, "No samples recorded yet.")
			return nil
		}

		names := make([]string, 0, len(body.Stages))
		for name := range body.Stages {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintf(os.Stdout, "%-14s %8s %10s %10s %10s\n", "STAGE", "COUNT", "AVG", "MIN", "MAX")
		for _, name := range names {
			s := body.Stages[name]
			fmt.Fprintf(os.Stdout, "%-14s %8d %9.1fms %9.1fms %9.1fms\n",
				name, s.Count, s.AvgMs, s.MinMs, s.MaxMs)
		}
		return nil
	},
}
