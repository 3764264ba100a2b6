package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/cartvault/internal/cliui"
	"github.com/tanq16/cartvault/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every download's current state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Version   int64           `json:"version"`
			Downloads []model.Summary `json:"downloads"`
		}
		if err := newAPIClient().do("GET", "/snapshot", nil, &out); err != nil {
			cliui.PrintError(err.Error())
			os.Exit(1)
		}
		cliui.PrintSummaries(out.Downloads)
		return nil
	},
}
