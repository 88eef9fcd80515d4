package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/casehound/casehound/internal/hunt"
	"github.com/casehound/casehound/internal/platform/env"
)

var huntsCmd = &cobra.Command{
	Use:   "hunts",
	Short: "List the registered hunt definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := hunt.DefaultRegistry()
		if err != nil {
			return err
		}
		if dir := env.String("CASEHOUND_HUNT_DEFINITIONS_DIR", ""); dir != "" {
			if _, err := hunt.LoadDirectory(registry, dir); err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tCATEGORY\tSTEPS\tDESCRIPTION")
		for _, def := range registry.List() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				def.Name, def.Version, def.Category, len(def.Steps), def.Description)
		}
		return w.Flush()
	},
}
