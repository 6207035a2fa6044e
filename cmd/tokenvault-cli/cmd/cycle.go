package cmd

import (
	"fmt"
	"log"
	"time"

	"tokenvault-backend/services/keeper"
	"tokenvault-backend/services/registry"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cycleCmd)
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Runs one keep-alive cycle over all active tokens and prints the result.",
	Run: func(cmd *cobra.Command, args []string) {
		store, cfg, err := openStore()
		if err != nil {
			log.Fatal(err)
		}

		// no agents are connected to a one-shot CLI run, expiry
		// notifications are simply dropped
		keep := keeper.New(store, registry.New(time.Minute), keeper.Options{
			Interval:   time.Minute,
			AgentUrl:   cfg.KeepAlive.AgentUrl,
			NetworkUrl: cfg.KeepAlive.NetworkUrl,
		})

		stats, err := keep.RunCycle(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}

		fmt.Printf("total: %d\nsuccess: %d\nexpired: %d\nfailed: %d\n",
			stats.Total, stats.Success, stats.Expired, stats.Failed)
	},
}
