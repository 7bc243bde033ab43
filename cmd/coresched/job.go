package main

import (
	"fmt"

	"github.com/anchieta/coresched/pkg/scheduler"
	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect the job table",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, jobsPath, _, _ := dataPaths(cmd)

		jobs, err := scheduler.LoadJobs(jobsPath)
		if err != nil {
			return fmt.Errorf("load jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}

		fmt.Printf("%-20s %-10s %-12s %-16s %-6s %s\n", "USERNAME", "JOB_NAME", "STATUS", "HOST", "N_CPU", "SUBMIT")
		for _, j := range jobs {
			fmt.Printf("%-20s %-10s %-12s %-16s %-6d %s\n",
				j.Username, j.JobName, j.Status, j.Host, j.NCPU, j.Submit.Format("2006-01-02T15:04:05"))
		}
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobListCmd)
}
