package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vec",
	Short: "Vec is a simplified, distributed version control system",
	Long: `Vec is a simplified, distributed version control system with a
content-addressed object store and a parallel pack-file builder.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
