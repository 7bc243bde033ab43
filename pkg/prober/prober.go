package prober

import (
	"context"
	"strconv"
	"strings"

	"github.com/anchieta/coresched/pkg/transport"
	"github.com/anchieta/coresched/pkg/types"
)

// Sentinel values used when a field's underlying command output cannot be
// parsed: degrade the specific field, not the whole record.
const degradedPercent = -1.0

// GPUInfo is one row of a gpu-usage probe.
type GPUInfo struct {
	Index              int
	Model              string
	VRAMUsedGiB        float64
	VRAMTotalGiB       float64
	UtilizationPercent float64
	ProcessName        string // empty if unowned
	OwnerUser          string // empty if unowned
}

// RAMUsage is the result of a ram-usage probe, in GiB. All three fields are
// -1 together on degradation.
type RAMUsage struct {
	UsedGiB  float64
	FreeGiB  float64
	TotalGiB float64
}

// DiskInfo is one mount row of a disk-usage probe.
type DiskInfo struct {
	Mount          string
	TotalGiB       float64
	UsedGiB        float64
	AvailableGiB   float64
	PercentUsed    float64
}

// Session is one row of a logged-in probe.
type Session struct {
	User      string
	TTY       string
	From      string
	LoginTime string
	JCPU      string
}

// excludedMountPrefixes are filtered from disk-usage results.
var excludedMountPrefixes = []string{"snap", "run", "dev", "tmp", "boot", "var", "sys"}

// Prober builds structured host telemetry on top of a Transport: each
// probe issues one or two real remote exec calls instead of a local
// TCP/HTTP/exec check, and degrades fields instead of returning a single
// pass/fail Result.
type Prober struct {
	transport transport.Transport
}

// New returns a Prober driven by the given Transport.
func New(t transport.Transport) *Prober {
	return &Prober{transport: t}
}

// CPUUsage returns the percentage of CPU in use (user+system), or
// degradedPercent if the remote output could not be parsed.
func (p *Prober) CPUUsage(ctx context.Context, host *types.Host) (float64, error) {
	out, err := p.transport.Exec(ctx, host, `top -bn1 | grep "Cpu(s)"`)
	if err != nil {
		return degradedPercent, err
	}
	return parseCPULine(out), nil
}

// parseCPULine parses a line like:
//   %Cpu(s):  3.1 us,  1.2 sy,  0.0 ni, 95.0 id, ...
// into a used percentage by summing user+system.
func parseCPULine(out string) float64 {
	fields := strings.FieldsFunc(out, func(r rune) bool { return r == ',' || r == '\n' })
	var user, system float64
	found := false
	for _, f := range fields {
		f = strings.TrimSpace(f)
		parts := strings.Fields(f)
		if len(parts) != 2 {
			continue
		}
		val, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			continue
		}
		switch parts[1] {
		case "us":
			user = val
			found = true
		case "sy":
			system = val
			found = true
		}
	}
	if !found {
		return degradedPercent
	}
	return user + system
}

// GPUUsage returns GPU inventory correlated with the owning process/user,
// or an empty list if nvidia-smi is absent or unparseable.
func (p *Prober) GPUUsage(ctx context.Context, host *types.Host) ([]GPUInfo, error) {
	hwOut, err := p.transport.Exec(ctx, host,
		`nvidia-smi --query-gpu=index,name,memory.used,memory.total,utilization.gpu --format=csv,noheader,nounits`)
	if err != nil {
		return nil, err
	}
	hw := parseGPUHardware(hwOut)
	if len(hw) == 0 {
		return nil, nil
	}

	appsOut, err := p.transport.Exec(ctx, host,
		`nvidia-smi --query-compute-apps=pid,process_name,used_memory --format=csv,noheader,nounits`)
	if err != nil {
		// Degrade ownership only; hardware inventory still stands.
		return hw, nil
	}
	owners := parseGPUOwners(appsOut)
	p.resolveOwners(ctx, host, owners)

	return correlateGPU(hw, owners), nil
}

// resolveOwners fills in owners' user field with one batched `ps` call
// keyed by pid, rather than one remote exec per process. Failure degrades
// OwnerUser only; process-name ownership still stands.
func (p *Prober) resolveOwners(ctx context.Context, host *types.Host, owners []gpuOwner) {
	pids := make([]string, 0, len(owners))
	for _, o := range owners {
		if o.pid != "" {
			pids = append(pids, o.pid)
		}
	}
	if len(pids) == 0 {
		return
	}

	out, err := p.transport.Exec(ctx, host, "ps -o pid=,user= -p "+strings.Join(pids, ","))
	if err != nil {
		return
	}

	byPID := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		byPID[fields[0]] = fields[1]
	}
	for i := range owners {
		owners[i].user = byPID[owners[i].pid]
	}
}

func parseGPUHardware(out string) []GPUInfo {
	var gpus []GPUInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cols := splitCSVLine(line)
		if len(cols) != 5 {
			continue
		}
		idx, err := strconv.Atoi(cols[0])
		if err != nil {
			continue
		}
		used, _ := strconv.ParseFloat(cols[2], 64)
		total, _ := strconv.ParseFloat(cols[3], 64)
		util, _ := strconv.ParseFloat(cols[4], 64)
		gpus = append(gpus, GPUInfo{
			Index:              idx,
			Model:              cols[1],
			VRAMUsedGiB:        used / 1024,
			VRAMTotalGiB:       total / 1024,
			UtilizationPercent: util,
		})
	}
	return gpus
}

type gpuOwner struct {
	pid         string
	processName string
	user        string
}

// parseGPUOwners maps pid -> process name; owner-user resolution is a
// separate batched ps lookup keyed by pid (see resolveOwners), since
// nvidia-smi's compute-apps query has no notion of unix user.
func parseGPUOwners(out string) []gpuOwner {
	var owners []gpuOwner
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cols := splitCSVLine(line)
		if len(cols) < 2 {
			continue
		}
		owners = append(owners, gpuOwner{pid: cols[0], processName: cols[1]})
	}
	return owners
}

// correlateGPU correlates query-compute-apps rows against query-gpu rows
// by position: the i-th compute-apps row supplies the owner/process of the
// i-th GPU. Model names are not compared. When query-compute-apps returns
// more rows than query-gpu, the extra rows are dropped; when it returns
// fewer, the remaining hardware GPUs keep an empty owner/process.
func correlateGPU(hw []GPUInfo, owners []gpuOwner) []GPUInfo {
	result := make([]GPUInfo, len(hw))
	copy(result, hw)

	if len(owners) >= len(hw) {
		for i := range result {
			if i < len(owners) {
				result[i].ProcessName = owners[i].processName
				result[i].OwnerUser = owners[i].user
			}
		}
		return result
	}

	for i := range owners {
		result[i].ProcessName = owners[i].processName
		result[i].OwnerUser = owners[i].user
	}
	return result
}

func splitCSVLine(line string) []string {
	raw := strings.Split(line, ",")
	cols := make([]string, len(raw))
	for i, c := range raw {
		cols[i] = strings.TrimSpace(c)
	}
	return cols
}

// RAMUsage returns memory totals in GiB, or {-1,-1,-1} on parse failure.
func (p *Prober) RAMUsage(ctx context.Context, host *types.Host) (RAMUsage, error) {
	out, err := p.transport.Exec(ctx, host, `free -g | grep Mem:`)
	if err != nil {
		return RAMUsage{UsedGiB: degradedPercent, FreeGiB: degradedPercent, TotalGiB: degradedPercent}, err
	}
	fields := strings.Fields(out)
	if len(fields) < 4 {
		return RAMUsage{UsedGiB: degradedPercent, FreeGiB: degradedPercent, TotalGiB: degradedPercent}, nil
	}
	total, errT := strconv.ParseFloat(fields[1], 64)
	used, errU := strconv.ParseFloat(fields[2], 64)
	free, errF := strconv.ParseFloat(fields[3], 64)
	if errT != nil || errU != nil || errF != nil {
		return RAMUsage{UsedGiB: degradedPercent, FreeGiB: degradedPercent, TotalGiB: degradedPercent}, nil
	}
	return RAMUsage{UsedGiB: used, FreeGiB: free, TotalGiB: total}, nil
}

// DiskUsage returns per-mount disk stats, filtering mounts that start with
// any of the excluded prefixes, or an empty list on failure.
func (p *Prober) DiskUsage(ctx context.Context, host *types.Host) ([]DiskInfo, error) {
	out, err := p.transport.Exec(ctx, host, `df -BG --output=target,size,used,avail,pcent`)
	if err != nil {
		return nil, err
	}

	var disks []DiskInfo
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 {
			continue // header
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 5 {
			continue
		}
		mount := fields[0]
		if excludedMount(mount) {
			continue
		}
		disks = append(disks, DiskInfo{
			Mount:        mount,
			TotalGiB:     parseGSize(fields[1]),
			UsedGiB:      parseGSize(fields[2]),
			AvailableGiB: parseGSize(fields[3]),
			PercentUsed:  parsePercent(fields[4]),
		})
	}
	return disks, nil
}

func excludedMount(mount string) bool {
	for _, prefix := range excludedMountPrefixes {
		if strings.HasPrefix(strings.TrimPrefix(mount, "/"), prefix) {
			return true
		}
	}
	return false
}

func parseGSize(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "G"), 64)
	if err != nil {
		return degradedPercent
	}
	return v
}

func parsePercent(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return degradedPercent
	}
	return v
}

// Users returns user -> group-list for uids in [1000, 65534), or an empty
// map on failure.
func (p *Prober) Users(ctx context.Context, host *types.Host) (map[string][]string, error) {
	out, err := p.transport.Exec(ctx, host, `awk -F: '$3>=1000 && $3<65534 {print $1}' /etc/passwd`)
	if err != nil {
		return nil, err
	}

	users := map[string][]string{}
	for _, user := range strings.Fields(out) {
		groupsOut, err := p.transport.Exec(ctx, host, "groups "+user)
		if err != nil {
			users[user] = nil
			continue
		}
		users[user] = parseGroups(groupsOut, user)
	}
	return users, nil
}

func parseGroups(out, user string) []string {
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, user+" : ")
	out = strings.TrimPrefix(out, user+":")
	return strings.Fields(out)
}

// LoggedIn returns the currently logged-in sessions, or an empty list on failure.
func (p *Prober) LoggedIn(ctx context.Context, host *types.Host) ([]Session, error) {
	out, err := p.transport.Exec(ctx, host, "w -h")
	if err != nil {
		return nil, err
	}

	var sessions []Session
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		sessions = append(sessions, Session{
			User:      fields[0],
			TTY:       fields[1],
			From:      fields[2],
			LoginTime: fields[3],
			JCPU:      fields[4],
		})
	}
	return sessions, nil
}

// GPUAvailability derives a host's live per-index GPU table from a probe
// result and the host's allowed-GPU list: available if the model matches
// the allow-list, else blocked, and a synthetic {index 0, Null, blocked}
// record when the host has no physical GPU (Null is always blocked, even
// when it appears in the allow-list).
func GPUAvailability(allowed []string, gpus []GPUInfo) map[int]*types.GPURecord {
	out := map[int]*types.GPURecord{}
	if len(gpus) == 0 {
		out[0] = &types.GPURecord{Index: 0, Model: types.NullGPUModel, Status: tagFor(types.NullGPUModel, allowed)}
		return out
	}
	for _, g := range gpus {
		out[g.Index] = &types.GPURecord{Index: g.Index, Model: g.Model, Status: tagFor(g.Model, allowed)}
	}
	return out
}

// ModelStatus exposes the allow-list tagging rule so the catalog can
// recompute a single GPU's status on credit without re-running a probe.
func ModelStatus(model string, allowed []string) types.GPUAvailability {
	return tagFor(model, allowed)
}

func tagFor(model string, allowed []string) types.GPUAvailability {
	if model == types.NullGPUModel {
		return types.GPUBlocked
	}
	for _, a := range allowed {
		if a == model {
			return types.GPUAvailable
		}
	}
	return types.GPUBlocked
}
