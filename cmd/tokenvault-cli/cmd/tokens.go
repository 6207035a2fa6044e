package cmd

import (
	"log"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	tokensCmd.AddCommand(tokensListCmd)
	rootCmd.AddCommand(tokensCmd)
}

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Operations on stored tokens.",
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "Prints every stored token, masked, with its status.",
	Run: func(cmd *cobra.Command, args []string) {
		store, _, err := openStore()
		if err != nil {
			log.Fatal(err)
		}

		rows, err := store.GetAll(cmd.Context(), true)
		if err != nil {
			log.Fatal(err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "User", "Account", "Type", "Token", "Status", "Network", "Last active"})

		for _, row := range rows {
			lastActive := ""
			if row.LastActiveAt.Valid {
				lastActive = formatUnix(row.LastActiveAt.Int64)
			}
			t.AppendRow(table.Row{
				row.ID,
				row.UserID,
				row.Account.String,
				row.AccountType,
				store.MaskedToken(row),
				row.Status,
				row.NetworkName.String,
				lastActive,
			})
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
