package reservation

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anchieta/coresched/pkg/log"
	"github.com/anchieta/coresched/pkg/metrics"
	"github.com/anchieta/coresched/pkg/notifier"
	"github.com/anchieta/coresched/pkg/types"
	"github.com/rs/zerolog"
)

var columns = []string{
	"ip", "name", "username", "status", "inicio", "fim", "n_cpu",
	"gpu_name", "gpu_index", "email", "notification_last_day", "notification_fist_day",
}

const timeLayout = time.RFC3339

// Manager owns the reservation table. It drives every row through
// waiting -> running -> finished and dispatches the two boundary emails
// (first day, last day) exactly once per row.
//
// The Start/Stop/run ticker-loop shape (time.NewTicker plus select over
// the ticker and a stop channel) is the concurrency idiom, scoped to
// reconciling one CSV table rather than broader cluster state.
type Manager struct {
	mu    sync.Mutex
	path  string
	rows  []*types.Reservation
	notif *notifier.Notifier

	logger zerolog.Logger
	stopCh chan struct{}
}

// New returns a Manager backed by the reservations file at path.
func New(path string, notif *notifier.Notifier) *Manager {
	return &Manager{
		path:   path,
		notif:  notif,
		logger: log.WithComponent("reservation"),
		stopCh: make(chan struct{}),
	}
}

// Load reads the reservations table from disk, replacing the in-memory rows.
func (m *Manager) Load() error {
	rows, err := loadReservations(m.path)
	if err != nil {
		return fmt.Errorf("reservation: load: %w", err)
	}
	m.mu.Lock()
	m.rows = rows
	m.mu.Unlock()
	return nil
}

// Save persists the table under the rename-to-_old crash-safety rule.
func (m *Manager) Save() error {
	m.mu.Lock()
	rows := append([]*types.Reservation(nil), m.rows...)
	m.mu.Unlock()
	return saveReservations(m.path, rows)
}

// Insert appends a row, persists the table, and dispatches a booking
// email on a best-effort basis -- delivery failure does not fail Insert.
func (m *Manager) Insert(r *types.Reservation) error {
	r.Status = types.ReservationWaiting
	m.mu.Lock()
	m.rows = append(m.rows, r)
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		return err
	}

	m.sendNotification(notifier.ReservationBooked, r.Email, fieldsFor(r))
	return nil
}

// sendNotification wraps Notifier.Send with the sent/failed counters by
// kind; a nil notifier counts as neither.
func (m *Manager) sendNotification(kind notifier.Kind, to string, fields map[string]string) bool {
	if m.notif == nil {
		return true
	}
	ok := m.notif.Send(kind, to, fields, "")
	if ok {
		metrics.NotificationsSentTotal.WithLabelValues(string(kind)).Inc()
	} else {
		metrics.NotificationsFailedTotal.WithLabelValues(string(kind)).Inc()
	}
	return ok
}

// Remove deletes the row at index, persists the table, and dispatches a
// cancellation email on a best-effort basis.
func (m *Manager) Remove(index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.rows) {
		m.mu.Unlock()
		return fmt.Errorf("reservation: remove: index %d out of range", index)
	}
	r := m.rows[index]
	m.rows = append(m.rows[:index], m.rows[index+1:]...)
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		return err
	}

	m.sendNotification(notifier.ReservationCancelled, r.Email, fieldsFor(r))
	return nil
}

// RefreshStatus recomputes every row's status from the current time:
// running if now is within [start, end], waiting if before start,
// finished otherwise.
func (m *Manager) RefreshStatus() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		switch {
		case now.Before(r.Inicio):
			r.Status = types.ReservationWaiting
		case !now.After(r.Fim):
			r.Status = types.ReservationRunning
		default:
			r.Status = types.ReservationFinished
		}
	}
}

// Tick reloads the table, refreshes status, and sends boundary emails
// exactly once per row: a row whose start date is today and whose
// first-day flag is still N gets a first-day email, flipping the flag to
// Y only if delivery succeeds; symmetric handling applies to end date and
// the last-day flag. A failed send leaves the flag at N so the next tick
// retries.
func (m *Manager) Tick() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReservationTickDuration)

	if err := m.Load(); err != nil {
		return err
	}
	m.RefreshStatus()

	today := time.Now()
	stateCounts := map[types.ReservationState]int{}
	m.mu.Lock()
	for _, r := range m.rows {
		stateCounts[r.Status]++
		if !r.NotificationFirstDay && sameDate(r.Inicio, today) {
			if m.sendNotification(notifier.ReservationFirstDay, r.Email, fieldsFor(r)) {
				r.NotificationFirstDay = true
			}
		}
		if !r.NotificationLastDay && sameDate(r.Fim, today) {
			if m.sendNotification(notifier.ReservationLastDay, r.Email, fieldsFor(r)) {
				r.NotificationLastDay = true
			}
		}
	}
	m.mu.Unlock()

	for state, count := range stateCounts {
		metrics.ReservationsTotal.WithLabelValues(string(state)).Set(float64(count))
	}

	return m.Save()
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func fieldsFor(r *types.Reservation) map[string]string {
	return map[string]string{
		"host":      r.Host,
		"username":  r.Username,
		"inicio":    r.Inicio.Format(timeLayout),
		"fim":       r.Fim.Format(timeLayout),
		"n_cpu":     strconv.Itoa(r.NCPU),
		"gpu_name":  r.GPUName,
		"status":    string(r.Status),
	}
}

// Start begins the ticker-driven monitor loop in the background.
func (m *Manager) Start(interval time.Duration) {
	go m.monitor(context.Background(), interval, false)
}

// Stop terminates the monitor loop started by Start.
func (m *Manager) Stop() {
	close(m.stopCh)
}

// Monitor runs Tick once (once=true) or repeatedly every interval until
// ctx is cancelled or Stop is called.
func (m *Manager) Monitor(ctx context.Context, interval time.Duration, once bool) error {
	return m.monitor(ctx, interval, once)
}

func (m *Manager) monitor(ctx context.Context, interval time.Duration, once bool) error {
	if err := m.Tick(); err != nil {
		m.logger.Error().Err(err).Msg("reservation tick failed")
	}
	if once {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", interval).Msg("reservation monitor started")

	for {
		select {
		case <-ticker.C:
			if err := m.Tick(); err != nil {
				m.logger.Error().Err(err).Msg("reservation tick failed")
			}
		case <-m.stopCh:
			m.logger.Info().Msg("reservation monitor stopped")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// LoadReservations reads the reservation table at path, exported so
// read-only collaborators (pkg/metrics, the CLI's reservation-list
// subcommand) can load it without driving a Manager instance.
func LoadReservations(path string) ([]*types.Reservation, error) {
	return loadReservations(path)
}

func loadReservations(path string) ([]*types.Reservation, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	header := all[0]
	colIdx := map[string]int{}
	for i, c := range header {
		colIdx[c] = i
	}

	var rows []*types.Reservation
	for _, rec := range all[1:] {
		get := func(col string) string {
			i, ok := colIdx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return rec[i]
		}
		inicio, _ := time.Parse(timeLayout, get("inicio"))
		fim, _ := time.Parse(timeLayout, get("fim"))
		ncpu, _ := strconv.Atoi(get("n_cpu"))
		gpuIndex, _ := strconv.Atoi(get("gpu_index"))
		if get("gpu_index") == "" {
			gpuIndex = -1
		}

		rows = append(rows, &types.Reservation{
			Host:                 get("name"),
			Address:              get("ip"),
			Username:             get("username"),
			Status:               types.ReservationState(get("status")),
			Inicio:               inicio,
			Fim:                  fim,
			NCPU:                 ncpu,
			GPUName:              get("gpu_name"),
			GPUIndex:             gpuIndex,
			Email:                get("email"),
			NotificationFirstDay: strings.EqualFold(get("notification_fist_day"), "Y"),
			NotificationLastDay:  strings.EqualFold(get("notification_last_day"), "Y"),
		})
	}
	return rows, nil
}

func saveReservations(path string, rows []*types.Reservation) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+"_old"); err != nil {
			return fmt.Errorf("backup %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}
	for _, r := range rows {
		gpuIndex := ""
		if r.GPUIndex >= 0 {
			gpuIndex = strconv.Itoa(r.GPUIndex)
		}
		row := []string{
			r.Address, r.Host, r.Username, string(r.Status),
			r.Inicio.Format(timeLayout), r.Fim.Format(timeLayout),
			strconv.Itoa(r.NCPU), r.GPUName, gpuIndex, r.Email,
			boolFlag(r.NotificationLastDay), boolFlag(r.NotificationFirstDay),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func boolFlag(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
