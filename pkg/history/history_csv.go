package history

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// fixedColumns are present on every row regardless of how many GPUs any
// host carries; GPU_{i}_* columns are appended dynamically, the same
// convention pkg/catalog uses for hosts.csv.
var fixedColumns = []string{"timestamp", "host", "cpu_usage_percent", "ram_used_gib", "ram_total_gib"}

const timeLayout = time.RFC3339

type gpuSample struct {
	name, util, used, total string
}

// appendHistory writes rows to historyPath. Unlike jobs.csv/hosts.csv,
// history.csv is an append-only log, not a replace-in-place table: a
// missing file is created with a header, an existing file's rows are
// re-mapped onto the (possibly wider) new header and written back ahead
// of the new rows -- append-then-widen semantics so a newly discovered
// GPU column never truncates older rows.
func appendHistory(path string, rows []*row) error {
	if len(rows) == 0 {
		return nil
	}

	existingHeader, existingRecords, err := readExisting(path)
	if err != nil {
		return fmt.Errorf("history: read existing log: %w", err)
	}

	maxGPU := maxGPUIndex(rows)
	for _, col := range existingHeader {
		if idx, _, ok := parseGPUColumn(col); ok && idx > maxGPU {
			maxGPU = idx
		}
	}

	header := append([]string(nil), fixedColumns...)
	for i := 0; i <= maxGPU; i++ {
		header = append(header,
			fmt.Sprintf("GPU_%d_Name", i),
			fmt.Sprintf("GPU_%d_Utilization", i),
			fmt.Sprintf("GPU_%d_MemoryUsedGiB", i),
			fmt.Sprintf("GPU_%d_MemoryTotalGiB", i),
		)
	}

	records := widenRecords(existingHeader, existingRecords, header)
	for _, r := range rows {
		records = append(records, toRecord(r, header))
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
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func readExisting(path string) ([]string, [][]string, error) {
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

// widenRecords re-maps every existing row onto newHeader by column name,
// so a host that grows an extra GPU widens the header without corrupting
// rows recorded before that GPU appeared.
func widenRecords(oldHeader []string, oldRecords [][]string, newHeader []string) [][]string {
	if len(oldRecords) == 0 {
		return nil
	}

	oldIdx := map[string]int{}
	for i, col := range oldHeader {
		oldIdx[col] = i
	}

	out := make([][]string, 0, len(oldRecords))
	for _, rec := range oldRecords {
		widened := make([]string, len(newHeader))
		for i, col := range newHeader {
			if j, ok := oldIdx[col]; ok && j < len(rec) {
				widened[i] = rec[j]
			}
		}
		out = append(out, widened)
	}
	return out
}

func parseGPUColumn(col string) (int, string, bool) {
	var idx int
	var field string
	n, err := fmt.Sscanf(col, "GPU_%d_%s", &idx, &field)
	if err != nil || n != 2 {
		return 0, "", false
	}
	return idx, field, true
}

func maxGPUIndex(rows []*row) int {
	max := -1
	for _, r := range rows {
		for _, g := range r.gpus {
			if g.Index > max {
				max = g.Index
			}
		}
	}
	return max
}

func toRecord(r *row, header []string) []string {
	byIndex := map[int]gpuSample{}
	for _, g := range r.gpus {
		byIndex[g.Index] = gpuSample{
			name:  g.Model,
			util:  strconv.FormatFloat(g.UtilizationPercent, 'f', -1, 64),
			used:  strconv.FormatFloat(g.VRAMUsedGiB, 'f', -1, 64),
			total: strconv.FormatFloat(g.VRAMTotalGiB, 'f', -1, 64),
		}
	}

	rec := make([]string, 0, len(header))
	for _, col := range header {
		switch col {
		case "timestamp":
			rec = append(rec, r.timestamp.Format(timeLayout))
		case "host":
			rec = append(rec, r.host)
		case "cpu_usage_percent":
			rec = append(rec, strconv.FormatFloat(r.cpuPercent, 'f', -1, 64))
		case "ram_used_gib":
			rec = append(rec, strconv.FormatFloat(r.ramUsedGiB, 'f', -1, 64))
		case "ram_total_gib":
			rec = append(rec, strconv.FormatFloat(r.ramTotalGiB, 'f', -1, 64))
		default:
			idx, field, ok := parseGPUColumn(col)
			if !ok {
				rec = append(rec, "")
				continue
			}
			g, ok := byIndex[idx]
			if !ok {
				rec = append(rec, "")
				continue
			}
			switch field {
			case "Name":
				rec = append(rec, g.name)
			case "Utilization":
				rec = append(rec, g.util)
			case "MemoryUsedGiB":
				rec = append(rec, g.used)
			case "MemoryTotalGiB":
				rec = append(rec, g.total)
			default:
				rec = append(rec, "")
			}
		}
	}
	return rec
}
