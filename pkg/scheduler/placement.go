package scheduler

import (
	"sort"

	"github.com/anchieta/coresched/pkg/catalog"
	"github.com/anchieta/coresched/pkg/types"
)

// reserveMargin is the CPU headroom find-host keeps clear on a GPU-capable
// host for CPU-only requests, protecting CPU capacity the host's GPU jobs
// will need. GPU requests bypass it entirely.
const reserveMargin = 6

// placement is the outcome of a successful find-host search.
type placement struct {
	host     *types.Host
	gpuIndex int // -1 if no GPU requested
	gpuName  string
}

// findHost returns the first catalog-order host whose free CPU covers the
// request and, if a GPU was requested, that carries an available matching
// GPU. The reserve margin applies only to CPU-only requests on a
// GPU-capable host; a GPU request bypasses it since the margin exists
// solely to protect GPU hosts' CPU capacity from CPU-only jobs.
func findHost(cat *catalog.Catalog, ncpu int, gpuRequested []string) *placement {
	wantsGPU := len(gpuRequested) > 0
	wantsAll := wantsGPU && len(gpuRequested) == 1 && gpuRequested[0] == "all"

	for _, h := range cat.HostsInOrder() {
		reserve := reserveMargin
		if wantsGPU || len(h.AllowedGPU) == 0 {
			reserve = 0
		}
		if h.AllowedCPU-reserve-h.CPUUsed < ncpu {
			continue
		}

		if !wantsGPU {
			return &placement{host: h, gpuIndex: -1}
		}

		idx, model, ok := pickGPU(h, gpuRequested, wantsAll)
		if !ok {
			continue
		}
		return &placement{host: h, gpuIndex: idx, gpuName: model}
	}
	return nil
}

// pickGPU returns the lowest-index available GPU on h matching the
// requested model set (or any available GPU, if the request is "all").
func pickGPU(h *types.Host, requested []string, wantsAll bool) (int, string, bool) {
	indices := make([]int, 0, len(h.GPUs))
	for idx := range h.GPUs {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		rec := h.GPUs[idx]
		if rec.Status != types.GPUAvailable || rec.Model == types.NullGPUModel {
			continue
		}
		if wantsAll || contains(requested, rec.Model) {
			return idx, rec.Model, true
		}
	}
	return 0, "", false
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// coreMask collects the union of pinned-core sets of every non-terminal
// job on the host, then walks integers from 0 picking the first ncpu not
// already in that union.
func coreMask(jobs []*types.Job, host string, ncpu int) []int {
	used := map[int]bool{}
	for _, j := range jobs {
		if j.Host != host || j.Status.Terminal() || len(j.Taskset) == 0 {
			continue
		}
		for _, c := range j.Taskset {
			used[c] = true
		}
	}

	mask := make([]int, 0, ncpu)
	for core := 0; len(mask) < ncpu; core++ {
		if !used[core] {
			mask = append(mask, core)
		}
	}
	return mask
}

// limitCheck reports whether username is blocked from a new job given its
// current non-terminal jobs and, if the new request wants a GPU, its
// current non-terminal GPU jobs.
func limitCheck(cat *catalog.Catalog, jobs []*types.Job, username string, wantsGPU bool) bool {
	lim := cat.UserLimit(username)

	var jobCount, gpuJobCount int
	for _, j := range jobs {
		if j.Username != username || j.Status.Terminal() {
			continue
		}
		jobCount++
		if j.GPUIndex >= 0 {
			gpuJobCount++
		}
	}

	if lim.JobCap > 0 && jobCount >= lim.JobCap {
		return true
	}
	if wantsGPU && lim.GPUJobCap > 0 && gpuJobCount >= lim.GPUJobCap {
		return true
	}
	return false
}
