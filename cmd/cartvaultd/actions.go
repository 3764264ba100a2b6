package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/cartvault/internal/cliui"
)

// actionCmd builds a cobra command for a single-download Control API
// action that takes an id and returns no body.
func actionCmd(use, short, path, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient().do(method, fmt.Sprintf("/downloads/%s%s", args[0], path), nil, nil); err != nil {
				cliui.PrintError(err.Error())
				os.Exit(1)
			}
			cliui.PrintSuccess(use + " ok")
			return nil
		},
	}
}

var (
	pauseCmd            = actionCmd("pause", "Pause one download", "/pause", "POST")
	resumeCmd           = actionCmd("resume", "Resume one paused download", "/resume", "POST")
	cancelCmd           = actionCmd("cancel", "Cancel one download", "/cancel", "POST")
	retryCmd            = actionCmd("retry", "Retry one failed download", "/retry", "POST")
	removeCmd           = actionCmd("remove", "Remove one terminal download's record", "", "DELETE")
	confirmOverwriteCmd = actionCmd("confirm-overwrite", "Confirm overwriting an existing file and resume", "/confirm-overwrite", "POST")
)

// bulkCmd builds a cobra command for a Control API action with no id.
func bulkCmd(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient().do("POST", path, nil, nil); err != nil {
				cliui.PrintError(err.Error())
				os.Exit(1)
			}
			cliui.PrintSuccess(use + " ok")
			return nil
		},
	}
}

var (
	pauseAllCmd  = bulkCmd("pause-all", "Pause every active download", "/pause-all")
	resumeAllCmd = bulkCmd("resume-all", "Resume every resumable paused download", "/resume-all")
	cancelAllCmd = bulkCmd("cancel-all", "Cancel every non-terminal download", "/cancel-all")
)
