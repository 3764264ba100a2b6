package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tanq16/cartvault/internal/cliui"
)

var addPriority string

var addCmd = &cobra.Command{
	Use:   "add <url> <save-path>",
	Short: "Queue a single download",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			ID int64 `json:"id"`
		}
		req := map[string]any{
			"url":       args[0],
			"save_path": args[1],
			"priority":  priorityToInt(addPriority),
		}
		if err := newAPIClient().do("POST", "/downloads/", req, &out); err != nil {
			cliui.PrintError(err.Error())
			os.Exit(1)
		}
		cliui.PrintSuccess(fmt.Sprintf("queued download #%d", out.ID))
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addPriority, "priority", "normal", "low, normal, or high")
}

func priorityToInt(s string) int {
	switch s {
	case "low":
		return 1
	case "high":
		return 3
	default:
		return 2
	}
}

// batchFileEntry is one row of the YAML file accepted by add-batch.
type batchFileEntry struct {
	URL      string `yaml:"url"`
	SavePath string `yaml:"save_path"`
	Priority string `yaml:"priority"`
}

var addBatchCmd = &cobra.Command{
	Use:   "add-batch <file.yaml>",
	Short: "Queue many downloads from a YAML list of {url, save_path, priority}",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var entries []batchFileEntry
		if err := yaml.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		items := make([]map[string]any, len(entries))
		for i, e := range entries {
			items[i] = map[string]any{
				"url":       e.URL,
				"save_path": e.SavePath,
				"priority":  priorityToInt(e.Priority),
			}
		}
		var out struct {
			IDs []int64 `json:"ids"`
		}
		if err := newAPIClient().do("POST", "/downloads/batch", map[string]any{"items": items}, &out); err != nil {
			cliui.PrintError(err.Error())
			os.Exit(1)
		}
		cliui.PrintSuccess(fmt.Sprintf("queued %d downloads", len(out.IDs)))
		return nil
	},
}
