package commands

import (
	"fmt"

	"github.com/meshcast/meshcast/internal/capture"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range capture.Names() {
			d, _ := capture.Lookup(name)
			fmt.Printf("%-12s %s\n", d.Name, d.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
