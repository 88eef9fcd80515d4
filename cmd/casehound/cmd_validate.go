package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/casehound/casehound/internal/hunt"
)

var validateCmd = &cobra.Command{
	Use:   "validate <definition.yaml> [more...]",
	Short: "Validate hunt definition files",
	Long: "Validate checks each YAML file against the definition schema and the\n" +
		"structural rules (unique step ids, known dependencies, acyclic graph).",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			raw, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
				continue
			}
			def, err := hunt.LoadDefinition(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
				continue
			}
			fmt.Printf("%s: ok (%s, %d steps)\n", path, def.Name, len(def.Steps))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d file(s) invalid", failed, len(args))
		}
		return nil
	},
}
