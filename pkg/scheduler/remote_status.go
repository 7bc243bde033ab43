package scheduler

import (
	"strconv"
	"strings"

	"github.com/anchieta/coresched/pkg/types"
)

// parseRemoteStatus parses a labmonitor.status line of the form
// "{state} - {pid}".
func parseRemoteStatus(line string) (types.RemoteStatus, int, bool) {
	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, "-", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	state := strings.TrimSpace(parts[0])
	pid, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", 0, false
	}
	return types.RemoteStatus(state), pid, true
}
