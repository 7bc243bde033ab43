package main

import (
	"fmt"

	"github.com/anchieta/coresched/pkg/catalog"
	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Inspect the host catalog",
}

var hostListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		hostsPath, usersPath, _, _, _ := dataPaths(cmd)

		cat := catalog.New()
		if err := cat.Load(hostsPath, usersPath); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}

		hosts := cat.HostsInOrder()
		if len(hosts) == 0 {
			fmt.Println("No hosts found")
			return nil
		}

		fmt.Printf("%-16s %-20s %-10s %-8s %-8s %s\n", "NAME", "ADDRESS", "STATUS", "CPU_USED", "CPU_MAX", "GPUS")
		for _, h := range hosts {
			gpuCount := len(h.GPUs)
			fmt.Printf("%-16s %-20s %-10s %-8d %-8d %d\n",
				h.Name, h.Address, h.Status, h.CPUUsed, h.AllowedCPU, gpuCount)
		}
		return nil
	},
}

func init() {
	hostCmd.AddCommand(hostListCmd)
}
