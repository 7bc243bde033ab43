package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anchieta/coresched/pkg/history"
	"github.com/anchieta/coresched/pkg/metrics"
	"github.com/anchieta/coresched/pkg/notifier"
	"github.com/anchieta/coresched/pkg/prober"
	"github.com/anchieta/coresched/pkg/reservation"
	"github.com/anchieta/coresched/pkg/scheduler"
	"github.com/anchieta/coresched/pkg/transport"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the scheduler, reservation manager, history sampler, and metrics endpoint",
	Long: `Starts the three independent ticker loops that drive coresched (job
scheduler, reservation manager, history sampler) plus the Prometheus metrics
collector, and blocks until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hostsPath, usersPath, jobsPath, reservationsPath, historyPath := dataPaths(cmd)
		emailConfig, _ := cmd.Flags().GetString("email-config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		historyInterval, _ := cmd.Flags().GetDuration("history-interval")
		reservationInterval, _ := cmd.Flags().GetDuration("reservation-interval")

		tr := transport.New()
		p := prober.New(tr)

		var notif *notifier.Notifier
		if emailConfig != "" {
			cfg, err := notifier.LoadConfig(emailConfig)
			if err != nil {
				return fmt.Errorf("load email config: %w", err)
			}
			notif = notifier.New(cfg)
			fmt.Printf("✓ Email notifications enabled via %s\n", cfg.SMTPAddr)
		} else {
			fmt.Println("✓ Email notifications disabled (no --email-config)")
		}

		sched := scheduler.New(jobsPath, hostsPath, usersPath, tr, p, notif)
		sched.Start()
		fmt.Println("✓ Job scheduler started")

		resMgr := reservation.New(reservationsPath, notif)
		resMgr.Start(reservationInterval)
		fmt.Println("✓ Reservation manager started")

		sampler := history.New(hostsPath, usersPath, historyPath, p, historyInterval)
		sampler.Start()
		fmt.Println("✓ History sampler started")

		collector := metrics.NewCollector(hostsPath, usersPath, jobsPath, reservationsPath,
			scheduler.LoadJobs, reservation.LoadReservations)
		collector.Start()
		fmt.Println("✓ Metrics collector started")

		metrics.SetVersion(Version)
		metrics.RegisterComponent("catalog", true, "ready")
		metrics.RegisterComponent("transport", true, "ready")
		metrics.RegisterComponent("scheduler", true, "ready")

		go func() {
			http.Handle("/metrics", metrics.Handler())
			http.Handle("/health", metrics.HealthHandler())
			http.Handle("/ready", metrics.ReadyHandler())
			http.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				fmt.Printf("metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Printf("✓ Health endpoints: http://%s/health, /ready, /live\n", metricsAddr)

		fmt.Println()
		fmt.Println("coresched server is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		sched.Stop()
		resMgr.Stop()
		sampler.Stop()
		collector.Stop()
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serverCmd.Flags().String("email-config", "", "Path to the SMTP YAML config enabling notifications (disabled if unset)")
	serverCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus metrics and health endpoints")
	serverCmd.Flags().Duration("history-interval", history.DefaultInterval, "History sampler interval")
	serverCmd.Flags().Duration("reservation-interval", time.Hour, "Reservation manager tick interval")
}
