package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/anchieta/coresched/pkg/prober"
	"github.com/anchieta/coresched/pkg/types"
)

var hostColumns = []string{
	"ip", "name", "username", "password", "status",
	"allowed_cpu", "cpu_used", "name_allowed_gpu", "path_exc",
}

var userColumns = []string{"username", "simultaneous_jobs_limit", "gpu_limit", "cpu_limit"}

var gpuColumnRe = regexp.MustCompile(`^GPU_(\d+)_(Name|status)$`)

// Catalog is the machine registry and user-limits registry.
// The scheduler loads a Catalog at the start of every tick and saves it
// at the end; the reservation manager does not use the Catalog. Access
// across processes is serialized by that file-backed protocol rather than
// by any lock held across process boundaries.
type Catalog struct {
	mu sync.Mutex

	Hosts     map[string]*types.Host
	hostOrder []string // catalog-file order; find-host ties break on this

	Users map[string]types.UserLimit
}

// New returns an empty Catalog.
func New() *Catalog {
	return &Catalog{
		Hosts: map[string]*types.Host{},
		Users: map[string]types.UserLimit{},
	}
}

// Load reads both tables from disk, replacing the in-memory contents. A
// missing file is treated as an empty table (first run).
func (c *Catalog) Load(hostsPath, usersPath string) error {
	hosts, order, err := loadHosts(hostsPath)
	if err != nil {
		return fmt.Errorf("catalog: load hosts: %w", err)
	}
	users, err := loadUsers(usersPath)
	if err != nil {
		return fmt.Errorf("catalog: load users: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Hosts = hosts
	c.hostOrder = order
	c.Users = users
	return nil
}

// Save writes both tables to disk under the rename-to-_old crash-safety
// rule.
func (c *Catalog) Save(hostsPath, usersPath string) error {
	c.mu.Lock()
	order := append([]string(nil), c.hostOrder...)
	hosts := make(map[string]*types.Host, len(c.Hosts))
	for k, v := range c.Hosts {
		hosts[k] = v
	}
	users := make(map[string]types.UserLimit, len(c.Users))
	for k, v := range c.Users {
		users[k] = v
	}
	c.mu.Unlock()

	if err := saveHosts(hostsPath, hosts, order); err != nil {
		return fmt.Errorf("catalog: save hosts: %w", err)
	}
	if err := saveUsers(usersPath, users); err != nil {
		return fmt.Errorf("catalog: save users: %w", err)
	}
	return nil
}

// HostsInOrder returns the catalog's hosts in file order -- the iteration
// order find-host uses for its deterministic first-candidate tie-break.
func (c *Catalog) HostsInOrder() []*types.Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Host, 0, len(c.hostOrder))
	for _, name := range c.hostOrder {
		if h, ok := c.Hosts[name]; ok {
			out = append(out, h)
		}
	}
	return out
}

// RefreshLive probes every host's GPU inventory in parallel (bounded
// parallelism equal to host count) and recomputes its live per-GPU-index
// availability table from the allow-list.
func (c *Catalog) RefreshLive(ctx context.Context, p *prober.Prober) {
	c.mu.Lock()
	hosts := make([]*types.Host, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		hosts = append(hosts, h)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(hosts))
	for _, h := range hosts {
		go func(h *types.Host) {
			defer wg.Done()
			gpus, err := p.GPUUsage(ctx, h)
			if err != nil {
				h.LastProbeError = err.Error()
				return
			}
			h.LastProbeError = ""
			h.GPUs = prober.GPUAvailability(h.AllowedGPU, gpus)
		}(h)
	}
	wg.Wait()
}

// Debit records cpu and, if gpuIndex >= 0, the GPU index as held by a
// placement. Scheduler code calls this on the pending->running transition.
func (c *Catalog) Debit(hostName string, cpu int, gpuIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.Hosts[hostName]
	if !ok {
		return fmt.Errorf("catalog: debit: unknown host %q", hostName)
	}
	h.CPUUsed += cpu
	if gpuIndex >= 0 {
		if rec, ok := h.GPUs[gpuIndex]; ok {
			rec.Status = types.GPURunning
		}
	}
	return nil
}

// Credit reverses a prior Debit on a job's terminal transition, restoring
// the GPU's availability tag from the host's current allow-list.
func (c *Catalog) Credit(hostName string, cpu int, gpuIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.Hosts[hostName]
	if !ok {
		return fmt.Errorf("catalog: credit: unknown host %q", hostName)
	}
	h.CPUUsed -= cpu
	if h.CPUUsed < 0 {
		h.CPUUsed = 0
	}
	if gpuIndex >= 0 {
		if rec, ok := h.GPUs[gpuIndex]; ok {
			rec.Status = prober.ModelStatus(rec.Model, h.AllowedGPU)
		}
	}
	return nil
}

// UserLimit returns the named user's row, falling back to the "default"
// row, falling back to the built-in {2, unlimited, unlimited}.
func (c *Catalog) UserLimit(username string) types.UserLimit {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lim, ok := c.Users[username]; ok {
		return lim
	}
	if lim, ok := c.Users["default"]; ok {
		return lim
	}
	return types.DefaultUserLimit
}

func loadHosts(path string) (map[string]*types.Host, []string, error) {
	header, records, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}

	hosts := map[string]*types.Host{}
	var order []string

	colIdx := map[string]int{}
	for i, col := range header {
		colIdx[col] = i
	}

	type gpuCol struct {
		index int
		field string // "Name" or "status"
		col   int
	}
	var gpuCols []gpuCol
	for i, col := range header {
		m := gpuColumnRe.FindStringSubmatch(col)
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		gpuCols = append(gpuCols, gpuCol{index: idx, field: m[2], col: i})
	}

	for _, rec := range records {
		h := &types.Host{
			Address:    get(rec, colIdx, "ip"),
			Name:       get(rec, colIdx, "name"),
			Username:   get(rec, colIdx, "username"),
			Password:   get(rec, colIdx, "password"),
			Status:     get(rec, colIdx, "status"),
			AllowedCPU: atoi(get(rec, colIdx, "allowed_cpu")),
			CPUUsed:    atoi(get(rec, colIdx, "cpu_used")),
			PathExc:    get(rec, colIdx, "path_exc"),
			GPUs:       map[int]*types.GPURecord{},
		}
		if list := get(rec, colIdx, "name_allowed_gpu"); list != "" {
			h.AllowedGPU = strings.Split(list, ",")
		}

		byIndex := map[int]*types.GPURecord{}
		for _, gc := range gpuCols {
			if gc.col >= len(rec) {
				continue
			}
			val := rec[gc.col]
			if val == "" {
				continue
			}
			rec2, ok := byIndex[gc.index]
			if !ok {
				rec2 = &types.GPURecord{Index: gc.index}
				byIndex[gc.index] = rec2
			}
			if gc.field == "Name" {
				rec2.Model = val
			} else {
				rec2.Status = types.GPUAvailability(val)
			}
		}
		for idx, rec2 := range byIndex {
			h.GPUs[idx] = rec2
		}

		if h.Name == "" {
			continue
		}
		hosts[h.Name] = h
		order = append(order, h.Name)
	}

	return hosts, order, nil
}

func saveHosts(path string, hosts map[string]*types.Host, order []string) error {
	maxIdx := -1
	for _, h := range hosts {
		for idx := range h.GPUs {
			if idx > maxIdx {
				maxIdx = idx
			}
		}
	}

	header := append([]string(nil), hostColumns...)
	for i := 0; i <= maxIdx; i++ {
		header = append(header, fmt.Sprintf("GPU_%d_Name", i), fmt.Sprintf("GPU_%d_status", i))
	}

	rows := make([][]string, 0, len(order))
	for _, name := range order {
		h, ok := hosts[name]
		if !ok {
			continue
		}
		row := []string{
			h.Address, h.Name, h.Username, h.Password, h.Status,
			strconv.Itoa(h.AllowedCPU), strconv.Itoa(h.CPUUsed),
			strings.Join(h.AllowedGPU, ","), h.PathExc,
		}
		for i := 0; i <= maxIdx; i++ {
			rec, ok := h.GPUs[i]
			if !ok {
				row = append(row, "", "")
				continue
			}
			row = append(row, rec.Model, string(rec.Status))
		}
		rows = append(rows, row)
	}

	return writeCSVWithBackup(path, header, rows)
}

func loadUsers(path string) (map[string]types.UserLimit, error) {
	header, records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	colIdx := map[string]int{}
	for i, col := range header {
		colIdx[col] = i
	}

	users := map[string]types.UserLimit{}
	for _, rec := range records {
		name := get(rec, colIdx, "username")
		if name == "" {
			continue
		}
		users[name] = types.UserLimit{
			Username:  name,
			JobCap:    atoi(get(rec, colIdx, "simultaneous_jobs_limit")),
			GPUJobCap: atoi(get(rec, colIdx, "gpu_limit")),
			CPUCap:    atoi(get(rec, colIdx, "cpu_limit")),
		}
	}
	return users, nil
}

func saveUsers(path string, users map[string]types.UserLimit) error {
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		u := users[name]
		rows = append(rows, []string{
			u.Username,
			strconv.Itoa(u.JobCap),
			strconv.Itoa(u.GPUJobCap),
			strconv.Itoa(u.CPUCap),
		})
	}
	return writeCSVWithBackup(path, userColumns, rows)
}

func get(rec []string, colIdx map[string]int, col string) string {
	i, ok := colIdx[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

// readCSV returns a missing file as an empty table rather than an error,
// since the catalog's first run has no prior table on disk.
func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}

// writeCSVWithBackup renames any existing file at path to a _old sibling
// before writing the replacement, so a crash mid-write never leaves both
// copies corrupt.
func writeCSVWithBackup(path string, header []string, rows [][]string) error {
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
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
