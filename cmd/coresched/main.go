package main

import (
	"fmt"
	"os"

	"github.com/anchieta/coresched/pkg/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coresched",
	Short: "coresched - decentralized SSH-based compute job and reservation scheduler",
	Long: `coresched places user jobs and calendar reservations across a fleet of
SSH-reachable hosts using three flat CSV tables (hosts, jobs, reservations)
as its only shared state -- no central database, no agent installed on the
remote hosts.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"coresched version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./coresched-data", "Directory holding hosts.csv, jobs.csv, reservations.csv, history.csv")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(reservationCmd)
	rootCmd.AddCommand(historyCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func dataPaths(cmd *cobra.Command) (hostsPath, usersPath, jobsPath, reservationsPath, historyPath string) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return dataDir + "/hosts.csv",
		dataDir + "/users.csv",
		dataDir + "/jobs.csv",
		dataDir + "/reservations.csv",
		dataDir + "/history.csv"
}
