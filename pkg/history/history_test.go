package history

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anchieta/coresched/pkg/prober"
	"github.com/anchieta/coresched/pkg/transport"
	"github.com/anchieta/coresched/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	outputs map[string]string
}

func (f *fakeTransport) Exec(_ context.Context, _ *types.Host, command string) (string, error) {
	return f.outputs[command], nil
}

func (f *fakeTransport) ExecDetached(context.Context, *types.Host, string) error { return nil }

func (f *fakeTransport) CopyTree(context.Context, *types.Host, string, *types.Host, string, transport.Direction) error {
	return nil
}

var _ transport.Transport = (*fakeTransport)(nil)

func writeHostsCSV(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "hosts.csv")
	require.NoError(t, os.WriteFile(path,
		[]byte("ip,name,username,password,status,allowed_cpu,cpu_used,name_allowed_gpu,path_exc\n"+
			"10.0.0.1,host1,u,p,up,16,0,,/exec\n"), 0o644))
	return path
}

func writeUsersCSV(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(path, []byte("username,simultaneous_jobs_limit,gpu_limit,cpu_limit\n"), 0o644))
	return path
}

func TestSampleAppendsOneRowPerHost(t *testing.T) {
	dir := t.TempDir()
	hostsPath := writeHostsCSV(t, dir)
	usersPath := writeUsersCSV(t, dir)
	historyPath := filepath.Join(dir, "history.csv")

	ft := &fakeTransport{outputs: map[string]string{
		`top -bn1 | grep "Cpu(s)"`: `%Cpu(s):  3.1 us,  1.2 sy,  0.0 ni, 95.7 id,  0.0 wa`,
		`free -g | grep Mem:`:      "Mem: 64 10 54 0 1 53",
	}}
	p := prober.New(ft)
	s := New(hostsPath, usersPath, historyPath, p, time.Hour)

	require.NoError(t, s.Sample(context.Background()))

	f, err := os.Open(historyPath)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2) // header + 1 row

	header := recs[0]
	row := recs[1]
	get := func(col string) string {
		for i, c := range header {
			if c == col {
				return row[i]
			}
		}
		return ""
	}
	assert.Equal(t, "host1", get("host"))
	assert.NotEmpty(t, get("cpu_usage_percent"))
	assert.Equal(t, "10", get("ram_used_gib"))
	assert.Equal(t, "64", get("ram_total_gib"))
}

func TestSampleAppendsAcrossRunsAndWidensGPUColumns(t *testing.T) {
	dir := t.TempDir()
	hostsPath := writeHostsCSV(t, dir)
	usersPath := writeUsersCSV(t, dir)
	historyPath := filepath.Join(dir, "history.csv")

	ft := &fakeTransport{outputs: map[string]string{
		`top -bn1 | grep "Cpu(s)"`: `%Cpu(s):  1.0 us,  1.0 sy,  0.0 ni, 98.0 id,  0.0 wa`,
		`free -g | grep Mem:`:      "Mem: 64 10 54 0 1 53",
	}}
	p := prober.New(ft)
	s := New(hostsPath, usersPath, historyPath, p, time.Hour)

	require.NoError(t, s.Sample(context.Background()))

	// Second round: host now reports a GPU, widening the header.
	ft.outputs[`nvidia-smi --query-gpu=index,name,memory.used,memory.total,utilization.gpu --format=csv,noheader,nounits`] =
		"0, A100, 1024, 40960, 12"
	require.NoError(t, s.Sample(context.Background()))

	f, err := os.Open(historyPath)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3) // header + 2 rows

	header := recs[0]
	assert.Contains(t, header, "GPU_0_Name")

	firstRow := recs[1]
	gpuCol := -1
	for i, c := range header {
		if c == "GPU_0_Name" {
			gpuCol = i
		}
	}
	require.GreaterOrEqual(t, gpuCol, 0)
	assert.Empty(t, firstRow[gpuCol]) // widened row from before the GPU appeared

	secondRow := recs[2]
	assert.Equal(t, "A100", secondRow[gpuCol])
}

func TestSampleMissingCatalogAppendsNothing(t *testing.T) {
	dir := t.TempDir()
	ft := &fakeTransport{}
	p := prober.New(ft)
	s := New(filepath.Join(dir, "nope.csv"), filepath.Join(dir, "nope2.csv"), filepath.Join(dir, "history.csv"), p, time.Hour)

	// A missing hosts.csv is treated as an empty catalog by Catalog.Load,
	// not an error, so Sample succeeds with zero rows appended.
	require.NoError(t, s.Sample(context.Background()))
	_, err := os.Stat(filepath.Join(dir, "history.csv"))
	assert.True(t, os.IsNotExist(err))
}
