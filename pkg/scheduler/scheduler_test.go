package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/anchieta/coresched/pkg/catalog"
	"github.com/anchieta/coresched/pkg/notifier"
	"github.com/anchieta/coresched/pkg/prober"
	"github.com/anchieta/coresched/pkg/transport"
	"github.com/anchieta/coresched/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport answers Exec/CopyTree calls against a small command-handler
// table so the full tick can be driven without a real SSH session. Status
// file contents are tracked per execution directory so pollRunning and the
// copy-back worker see a coherent remote state across calls.
type fakeTransport struct {
	mu        sync.Mutex
	status    map[string]string // execDir -> "state - pid" line
	copies    []string          // "srcHost:srcPath->dstHost:dstPath"
	copyErr   error
	execErr   error
	killAlive bool

	// copyBarrier, when set, blocks CopyTree until closed -- used to hold a
	// copy-back in flight across an intervening Tick.
	copyBarrier chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{status: map[string]string{}, killAlive: true}
}

func (f *fakeTransport) Exec(_ context.Context, host *types.Host, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.execErr != nil {
		return "", f.execErr
	}

	switch {
	case strings.HasPrefix(command, "cat > ") || strings.Contains(command, "<<'CORESCHED_LAUNCHER_EOF'"):
		return "", nil
	case strings.HasPrefix(command, "cat "):
		path := strings.TrimSpace(strings.TrimPrefix(command, "cat "))
		dir := strings.TrimSuffix(path, "/"+statusFileName)
		return f.status[dir], nil
	case strings.HasPrefix(command, "echo 'copying"):
		f.setStatusFromCommand(command)
		return "", nil
	case strings.HasPrefix(command, "echo 'finished"):
		f.setStatusFromCommand(command)
		return "", nil
	case strings.HasPrefix(command, "kill -0"):
		if f.killAlive {
			return "alive", nil
		}
		return "dead", nil
	}
	return "", nil
}

func (f *fakeTransport) setStatusFromCommand(command string) {
	parts := strings.SplitN(command, "> ", 2)
	if len(parts) != 2 {
		return
	}
	path := strings.TrimSpace(parts[1])
	dir := strings.TrimSuffix(path, "/"+statusFileName)
	line := strings.TrimPrefix(command, "echo '")
	line = strings.SplitN(line, "'", 2)[0]
	f.status[dir] = line
}

func (f *fakeTransport) ExecDetached(context.Context, *types.Host, string) error {
	return nil
}

func (f *fakeTransport) CopyTree(_ context.Context, srcHost *types.Host, srcPath string, dstHost *types.Host, dstPath string, _ transport.Direction) error {
	if f.copyBarrier != nil {
		<-f.copyBarrier
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyErr != nil {
		return f.copyErr
	}
	f.copies = append(f.copies, fmt.Sprintf("%s:%s->%s:%s", srcHost.Name, srcPath, dstHost.Name, dstPath))
	return nil
}

func (f *fakeTransport) setStatus(execDir, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[execDir] = line
}

var _ transport.Transport = (*fakeTransport)(nil)

type fakeSender struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSender) Send(string, []string, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func writeTestCatalog(t *testing.T, dir string) (hostsPath, usersPath string) {
	t.Helper()
	hostsPath = filepath.Join(dir, "hosts.csv")
	usersPath = filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(hostsPath,
		[]byte("ip,name,username,password,status,allowed_cpu,cpu_used,name_allowed_gpu,path_exc\n"+
			"10.0.0.1,origin,u,p,up,2,0,,/home\n"+
			"10.0.0.2,worker1,u,p,up,16,0,,/exec\n"), 0o644))
	require.NoError(t, os.WriteFile(usersPath, []byte(usersHeader), 0o644))
	return
}

func newTestScheduler(t *testing.T, tr transport.Transport, snd notifier.Sender) (*Scheduler, string) {
	t.Helper()
	dir := t.TempDir()
	hostsPath, usersPath := writeTestCatalog(t, dir)
	jobsPath := filepath.Join(dir, "jobs.csv")

	notif := notifier.NewWithSender(notifier.Config{SMTPAddr: "localhost:25", Address: "a@b.com"}, snd)
	p := prober.New(tr)
	s := New(jobsPath, hostsPath, usersPath, tr, p, notif)
	return s, jobsPath
}

func TestTickPlacesAPendingJob(t *testing.T) {
	tr := newFakeTransport()
	snd := &fakeSender{}
	s, jobsPath := newTestScheduler(t, tr, snd)

	job := &types.Job{
		Username: "alice", JobName: "train", ScriptName: "run.sh",
		OriginHost: "origin", OriginPath: "/home/alice/job1", NCPU: 4,
		Status: types.JobPending, GPUIndex: -1, Email: "alice@example.com",
	}
	require.NoError(t, saveJobs(jobsPath, []*types.Job{job}))

	require.NoError(t, s.Tick(context.Background()))

	loaded, err := loadJobs(jobsPath)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, types.JobRunning, loaded[0].Status)
	assert.Equal(t, "worker1", loaded[0].Host)
	assert.True(t, loaded[0].NotificationStart)
	assert.Equal(t, 1, snd.calls)
}

func TestTickTransitionsRunningToCopyFinished(t *testing.T) {
	tr := newFakeTransport()
	s, jobsPath := newTestScheduler(t, tr, &fakeSender{})

	job := &types.Job{
		Username: "alice", Status: types.JobRunning, GPUIndex: -1,
		Host: "worker1", PID: 99, PathExc: "/exec/job1", NCPU: 2,
	}
	require.NoError(t, saveJobs(jobsPath, []*types.Job{job}))
	tr.setStatus("/exec/job1", "copy_finished - 99")

	// First tick observes copy_finished on the status file and records it.
	require.NoError(t, s.Tick(context.Background()))
	loaded, err := loadJobs(jobsPath)
	require.NoError(t, err)
	assert.Equal(t, types.JobCopyFinished, loaded[0].Status)

	// Second tick dispatches the copy-back to the worker pool.
	require.NoError(t, s.Tick(context.Background()))
	s.pool.StopWait()

	// The copy-back reports its outcome over a channel; a further tick is
	// what actually applies and persists it.
	require.NoError(t, s.Tick(context.Background()))

	loaded, err = loadJobs(jobsPath)
	require.NoError(t, err)
	assert.Equal(t, types.JobFinished, loaded[0].Status)
}

// TestCopyBackSurvivesInterveningTick guards against a copy-back outliving
// the tick that dispatched it: the whole point of running it on the pool
// is that it can still be in flight when later ticks reload the job table
// from disk, replacing the *types.Job pointer the worker started with.
func TestCopyBackSurvivesInterveningTick(t *testing.T) {
	tr := newFakeTransport()
	tr.copyBarrier = make(chan struct{})
	s, jobsPath := newTestScheduler(t, tr, &fakeSender{})

	job := &types.Job{
		Username: "alice", Status: types.JobRunning, GPUIndex: -1,
		Host: "worker1", PID: 99, PathExc: "/exec/job1", NCPU: 2,
	}
	require.NoError(t, saveJobs(jobsPath, []*types.Job{job}))
	tr.setStatus("/exec/job1", "copy_finished - 99")

	// First tick observes copy_finished on the status file.
	require.NoError(t, s.Tick(context.Background()))

	// Second tick dispatches the copy-back; CopyTree blocks on copyBarrier,
	// so the worker is still running once this call returns.
	require.NoError(t, s.Tick(context.Background()))

	// A third tick reloads jobs.csv from disk while the copy-back from
	// tick two is still outstanding -- this is the scenario that used to
	// orphan the dispatching tick's *types.Job pointer and strand the row.
	require.NoError(t, s.Tick(context.Background()))

	loaded, err := loadJobs(jobsPath)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, types.JobCopying, loaded[0].Status)

	close(tr.copyBarrier)
	s.pool.StopWait()

	// A further tick drains the completion and must find the row by key
	// in the current table rather than lose it.
	require.NoError(t, s.Tick(context.Background()))
	loaded, err = loadJobs(jobsPath)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, types.JobFinished, loaded[0].Status)
}

func TestTickMarksDeadProcessNotFinishedCorrectly(t *testing.T) {
	tr := newFakeTransport()
	tr.killAlive = false
	s, jobsPath := newTestScheduler(t, tr, &fakeSender{})

	job := &types.Job{
		Username: "alice", Status: types.JobRunning, GPUIndex: -1,
		Host: "worker1", PID: 99, PathExc: "/exec/job1", NCPU: 2,
	}
	require.NoError(t, saveJobs(jobsPath, []*types.Job{job}))
	tr.setStatus("/exec/job1", "running - 99")

	require.NoError(t, s.Tick(context.Background()))

	loaded, err := loadJobs(jobsPath)
	require.NoError(t, err)
	assert.Equal(t, types.JobNotFinishedCorrectly, loaded[0].Status)
}

func TestTickFinalizeSendsEmailOnceAndCredits(t *testing.T) {
	tr := newFakeTransport()
	snd := &fakeSender{}
	s, jobsPath := newTestScheduler(t, tr, snd)

	job := &types.Job{
		Username: "alice", Status: types.JobFinished, GPUIndex: -1,
		Host: "worker1", NCPU: 4, Email: "alice@example.com",
	}
	require.NoError(t, saveJobs(jobsPath, []*types.Job{job}))

	require.NoError(t, s.Tick(context.Background()))
	require.NoError(t, s.Tick(context.Background()))

	loaded, err := loadJobs(jobsPath)
	require.NoError(t, err)
	assert.True(t, loaded[0].NotificationEnd)
	assert.Equal(t, 1, snd.calls)

	cat := catalog.New()
	hostsPath := filepath.Join(filepath.Dir(jobsPath), "hosts.csv")
	usersPath := filepath.Join(filepath.Dir(jobsPath), "users.csv")
	require.NoError(t, cat.Load(hostsPath, usersPath))
	assert.Equal(t, 0, cat.Hosts["worker1"].CPUUsed)
}

func TestTickRejectsPlacementOverUserJobCap(t *testing.T) {
	tr := newFakeTransport()
	s, jobsPath := newTestScheduler(t, tr, &fakeSender{})

	usersPath := filepath.Join(filepath.Dir(jobsPath), "users.csv")
	require.NoError(t, os.WriteFile(usersPath, []byte(usersHeader+"alice,1,0,0\n"), 0o644))

	jobs := []*types.Job{
		{Username: "alice", Status: types.JobRunning, Host: "worker1", NCPU: 2, GPUIndex: -1},
		{Username: "alice", Status: types.JobPending, OriginHost: "origin", OriginPath: "/home/alice/job2", NCPU: 2, GPUIndex: -1},
	}
	require.NoError(t, saveJobs(jobsPath, jobs))

	require.NoError(t, s.Tick(context.Background()))

	loaded, err := loadJobs(jobsPath)
	require.NoError(t, err)
	for _, j := range loaded {
		if j.OriginPath == "/home/alice/job2" {
			assert.Equal(t, types.JobPending, j.Status)
		}
	}
}
