package main

import (
	"fmt"
	"time"

	"github.com/anchieta/coresched/pkg/reservation"
	"github.com/anchieta/coresched/pkg/types"
	"github.com/spf13/cobra"
)

var reservationCmd = &cobra.Command{
	Use:   "reservation",
	Short: "Manage calendar reservations",
}

var reservationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reservations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, _, reservationsPath, _ := dataPaths(cmd)

		rows, err := reservation.LoadReservations(reservationsPath)
		if err != nil {
			return fmt.Errorf("load reservations: %w", err)
		}
		if len(rows) == 0 {
			fmt.Println("No reservations found")
			return nil
		}

		fmt.Printf("%-16s %-20s %-10s %-20s %-20s %s\n", "HOST", "USERNAME", "STATUS", "INICIO", "FIM", "N_CPU")
		for _, r := range rows {
			fmt.Printf("%-16s %-20s %-10s %-20s %-20s %d\n",
				r.Host, r.Username, r.Status,
				r.Inicio.Format("2006-01-02"), r.Fim.Format("2006-01-02"), r.NCPU)
		}
		return nil
	},
}

var reservationCreateCmd = &cobra.Command{
	Use:   "create HOST USERNAME",
	Short: "Book a reservation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, _, reservationsPath, _ := dataPaths(cmd)

		inicio, _ := cmd.Flags().GetString("start")
		fim, _ := cmd.Flags().GetString("end")
		ncpu, _ := cmd.Flags().GetInt("n-cpu")
		gpuName, _ := cmd.Flags().GetString("gpu-name")
		email, _ := cmd.Flags().GetString("email")

		start, err := time.Parse("2006-01-02", inicio)
		if err != nil {
			return fmt.Errorf("invalid --start date: %w", err)
		}
		end, err := time.Parse("2006-01-02", fim)
		if err != nil {
			return fmt.Errorf("invalid --end date: %w", err)
		}
		// The end date is inclusive: the reservation lasts through that day.
		end = end.Add(24*time.Hour - time.Second)

		mgr := reservation.New(reservationsPath, nil)
		if err := mgr.Load(); err != nil {
			return fmt.Errorf("load reservations: %w", err)
		}

		r := &types.Reservation{
			Host:     args[0],
			Username: args[1],
			Inicio:   start,
			Fim:      end,
			NCPU:     ncpu,
			GPUName:  gpuName,
			GPUIndex: -1,
			Email:    email,
		}
		if err := mgr.Insert(r); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		fmt.Printf("✓ Reservation booked: %s for %s (%s to %s)\n", args[0], args[1], inicio, fim)
		return nil
	},
}

var reservationCancelCmd = &cobra.Command{
	Use:   "cancel HOST USERNAME START",
	Short: "Cancel a reservation (START is the booking's start date, YYYY-MM-DD)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, _, reservationsPath, _ := dataPaths(cmd)

		start, err := time.Parse("2006-01-02", args[2])
		if err != nil {
			return fmt.Errorf("invalid START date: %w", err)
		}

		rows, err := reservation.LoadReservations(reservationsPath)
		if err != nil {
			return fmt.Errorf("load reservations: %w", err)
		}

		index := -1
		for i, r := range rows {
			if r.Host == args[0] && r.Username == args[1] && sameCalendarDate(r.Inicio, start) {
				index = i
				break
			}
		}
		if index == -1 {
			return fmt.Errorf("no matching reservation found for %s/%s starting %s", args[0], args[1], args[2])
		}

		mgr := reservation.New(reservationsPath, nil)
		if err := mgr.Load(); err != nil {
			return fmt.Errorf("load reservations: %w", err)
		}
		if err := mgr.Remove(index); err != nil {
			return fmt.Errorf("remove reservation: %w", err)
		}

		fmt.Printf("✓ Reservation cancelled: %s/%s\n", args[0], args[1])
		return nil
	},
}

func sameCalendarDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func init() {
	reservationCmd.AddCommand(reservationListCmd)
	reservationCmd.AddCommand(reservationCreateCmd)
	reservationCmd.AddCommand(reservationCancelCmd)

	reservationCreateCmd.Flags().String("start", "", "Start date, YYYY-MM-DD (required)")
	reservationCreateCmd.Flags().String("end", "", "End date, YYYY-MM-DD (required)")
	reservationCreateCmd.Flags().Int("n-cpu", 1, "Number of CPU cores to hold")
	reservationCreateCmd.Flags().String("gpu-name", "", "GPU model to hold (empty for CPU-only)")
	reservationCreateCmd.Flags().String("email", "", "Email address for booking/boundary notifications")
	reservationCreateCmd.MarkFlagRequired("start")
	reservationCreateCmd.MarkFlagRequired("end")
}
