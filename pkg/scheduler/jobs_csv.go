package scheduler

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anchieta/coresched/pkg/types"
)

var jobColumns = []string{
	"ip", "name", "username", "job_name", "status", "pid", "path_exc", "path_origin",
	"machine_origin", "script_name", "submit", "inicio", "fim", "n_cpu", "taskset",
	"gpu_requested", "gpu_name", "gpu_index", "email", "notification_start", "notification_end",
}

const timeLayout = time.RFC3339Nano

// LoadJobs reads the job table at path, exported so read-only collaborators
// (pkg/metrics, the CLI's job-list subcommand) can load it without driving
// a scheduler instance.
func LoadJobs(path string) ([]*types.Job, error) {
	return loadJobs(path)
}

func loadJobs(path string) ([]*types.Job, error) {
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

	colIdx := map[string]int{}
	for i, c := range all[0] {
		colIdx[c] = i
	}

	var jobs []*types.Job
	for _, rec := range all[1:] {
		get := func(col string) string {
			i, ok := colIdx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return rec[i]
		}

		submit, _ := time.Parse(timeLayout, get("submit"))
		inicio, _ := time.Parse(timeLayout, get("inicio"))
		fim, _ := time.Parse(timeLayout, get("fim"))
		ncpu, _ := strconv.Atoi(get("n_cpu"))
		pid, _ := strconv.Atoi(get("pid"))
		gpuIndex := -1
		if v := get("gpu_index"); v != "" {
			gpuIndex, _ = strconv.Atoi(v)
		}

		jobs = append(jobs, &types.Job{
			Submit:            submit,
			Username:          get("username"),
			JobName:           get("job_name"),
			ScriptName:        get("script_name"),
			OriginHost:        get("machine_origin"),
			OriginPath:        get("path_origin"),
			NCPU:              ncpu,
			GPURequested:      splitCSVList(get("gpu_requested")),
			Email:             get("email"),
			Host:              get("name"),
			Address:           get("ip"),
			PathExc:           get("path_exc"),
			Taskset:           splitIntList(get("taskset")),
			GPUIndex:          gpuIndex,
			GPUName:           get("gpu_name"),
			PID:               pid,
			Inicio:            inicio,
			Fim:               fim,
			NotificationStart: strings.EqualFold(get("notification_start"), "Y"),
			NotificationEnd:   strings.EqualFold(get("notification_end"), "Y"),
			Status:            types.JobState(get("status")).Normalize(),
		})
	}
	return jobs, nil
}

func saveJobs(path string, jobs []*types.Job) error {
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
	if err := w.Write(jobColumns); err != nil {
		return err
	}
	for _, j := range jobs {
		gpuIndex := ""
		if j.GPUIndex >= 0 {
			gpuIndex = strconv.Itoa(j.GPUIndex)
		}
		row := []string{
			j.Address, j.Host, j.Username, j.JobName, string(j.Status),
			strconv.Itoa(j.PID), j.PathExc, j.OriginPath, j.OriginHost, j.ScriptName,
			j.Submit.Format(timeLayout), formatTimeOrEmpty(j.Inicio), formatTimeOrEmpty(j.Fim),
			strconv.Itoa(j.NCPU), joinIntList(j.Taskset), strings.Join(j.GPURequested, ","),
			j.GPUName, gpuIndex, j.Email, boolFlag(j.NotificationStart), boolFlag(j.NotificationEnd),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatTimeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func splitCSVList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func splitIntList(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil {
			out = append(out, v)
		}
	}
	return out
}

func joinIntList(ints []int) string {
	if len(ints) == 0 {
		return ""
	}
	parts := make([]string, len(ints))
	for i, v := range ints {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func boolFlag(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
