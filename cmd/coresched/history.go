package main

import (
	"context"
	"fmt"

	"github.com/anchieta/coresched/pkg/history"
	"github.com/anchieta/coresched/pkg/prober"
	"github.com/anchieta/coresched/pkg/transport"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Drive the usage history sampler",
}

var historySampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Run one sampling pass across every catalog host and append it to history.csv",
	RunE: func(cmd *cobra.Command, args []string) error {
		hostsPath, usersPath, _, _, historyPath := dataPaths(cmd)

		tr := transport.New()
		p := prober.New(tr)
		sampler := history.New(hostsPath, usersPath, historyPath, p, history.DefaultInterval)

		if err := sampler.Sample(context.Background()); err != nil {
			return fmt.Errorf("sample: %w", err)
		}
		fmt.Println("✓ Sampled all hosts")
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historySampleCmd)
}
