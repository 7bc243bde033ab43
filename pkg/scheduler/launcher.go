package scheduler

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/anchieta/coresched/pkg/types"
)

// statusFileName and logFileName are fixed names inside every execution
// directory.
const (
	statusFileName = "labmonitor.status"
	logFileName    = "run_labmonitor.log"
)

// launcherTemplate emits a POSIX shell bootstrap: it writes its own pid to
// the status file, pins the user script under the computed CPU-affinity
// mask and CUDA_VISIBLE_DEVICES, and advances the status file through
// running and copy_finished as the script completes.
var launcherTemplate = template.Must(template.New("launcher").Parse(`#!/bin/sh
set -u
STATUS_FILE="{{.ExecDir}}/{{.StatusFile}}"
echo "started - $$" > "$STATUS_FILE"
{{if .HasGPU}}export CUDA_VISIBLE_DEVICES={{.GPUIndex}}
{{end}}echo "running - $$" > "$STATUS_FILE"
taskset -c {{.Taskset}} sh "{{.ExecDir}}/{{.ScriptName}}" > "{{.ExecDir}}/{{.LogFile}}" 2>&1
echo "copy_finished - $$" > "$STATUS_FILE"
`))

type launcherVars struct {
	ExecDir    string
	StatusFile string
	LogFile    string
	ScriptName string
	Taskset    string
	HasGPU     bool
	GPUIndex   int
}

// generateLauncher renders the launcher script for job, already placed
// with a core mask and (optionally) a GPU index.
func generateLauncher(job *types.Job) (string, error) {
	vars := launcherVars{
		ExecDir:    job.PathExc,
		StatusFile: statusFileName,
		LogFile:    logFileName,
		ScriptName: job.ScriptName,
		Taskset:    joinIntList(job.Taskset),
		HasGPU:     job.GPUIndex >= 0,
		GPUIndex:   job.GPUIndex,
	}

	var buf bytes.Buffer
	if err := launcherTemplate.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("scheduler: render launcher: %w", err)
	}
	return buf.String(), nil
}

// writeAndLaunchCommand builds the shell command that writes the launcher
// script into the execution directory and makes it executable; the caller
// separately exec-detaches it. The script body rides inside a quoted
// here-doc so Transport never needs a dedicated "write file" operation.
func writeAndLaunchCommand(execDir, script string) string {
	const marker = "CORESCHED_LAUNCHER_EOF"
	var b strings.Builder
	fmt.Fprintf(&b, "cat > %s/launcher.sh <<'%s'\n", execDir, marker)
	b.WriteString(script)
	fmt.Fprintf(&b, "%s\nchmod +x %s/launcher.sh\n", marker, execDir)
	return b.String()
}

func launchCommand(execDir string) string {
	return fmt.Sprintf("%s/launcher.sh", execDir)
}

func statusFilePath(execDir string) string {
	return execDir + "/" + statusFileName
}
