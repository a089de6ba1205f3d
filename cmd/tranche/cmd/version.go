package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the tranche CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tranche version %s\n", version)
		fmt.Println("A durable rolling-tranche portfolio state engine")
		fmt.Println("https://github.com/rustyeddy/tranche")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
