package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nvandessel/quicksim/internal/store"
)

// buildInfo describes the running binary and the run store schema it writes.
type buildInfo struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
	Go          string `json:"go"`
	Platform    string `json:"platform"`
	StoreSchema int    `json:"store_schema"`
}

func currentBuild() buildInfo {
	return buildInfo{
		Version:     version,
		Commit:      commit,
		Date:        date,
		Go:          runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		StoreSchema: store.SchemaVersion,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the quicksim build and run store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := currentBuild()
			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(out).Encode(info)
			}
			fmt.Fprintf(out, "quicksim %s\n", info.Version)
			fmt.Fprintf(out, "  commit:       %s (%s)\n", info.Commit, info.Date)
			fmt.Fprintf(out, "  go:           %s %s\n", info.Go, info.Platform)
			fmt.Fprintf(out, "  store schema: v%d\n", info.StoreSchema)
			return nil
		},
	}
}
