package cmd

import (
	"fmt"

	"tokenvault-backend/lib/tokencrypt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(genkeyCmd)
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generates a fresh token encryption key for the encryption.key config field.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(tokencrypt.GenerateKey())
	},
}
