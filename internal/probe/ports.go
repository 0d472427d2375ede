package probe

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Platform tooling used to resolve pid -> listening ports.
// Linux reads `ss -tunlp`; Windows reads `netstat -ano`.
var platformCommand = map[string][]string{
	"linux":   {"ss", "-tunlp"},
	"windows": {"netstat", "-ano"},
}

var errUnsupportedPlatform = errors.New("listening-port discovery unsupported on this platform")

// ListeningPorts returns the ports pid is listening on, if the platform
// supports discovery. An empty slice with nil error means the pid holds no
// listening socket.
func ListeningPorts(ctx context.Context, pid int) ([]string, error) {
	table, err := listenTable(ctx)
	if err != nil {
		return nil, err
	}
	return table[strconv.Itoa(pid)], nil
}

// listenTable scans the host's full listening-socket table.
func listenTable(ctx context.Context) (map[string][]string, error) {
	argv, ok := platformCommand[runtime.GOOS]
	if !ok {
		return nil, errUnsupportedPlatform
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return parseListenTable(string(out), runtime.GOOS), nil
}

// parseListenTable extracts a pid -> listening-ports table from `ss -tunlp`
// (linux) or `netstat -ano` (windows) output. Unparseable lines are skipped;
// this is diagnostic data, not a correctness path.
func parseListenTable(content, goos string) map[string][]string {
	table := make(map[string][]string)

	var listenMark string
	switch goos {
	case "linux":
		listenMark = "LISTEN"
	case "windows":
		listenMark = "LISTENING"
	default:
		return table
	}

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r", ""), "\n") {
		if !strings.Contains(line, listenMark) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		var port, pid string
		switch goos {
		case "linux":
			// Local address is the first field shaped host:port; the owning
			// pid hides in a users:(("name",pid=N,fd=M)) suffix.
			for _, f := range fields {
				if p, ok := portOf(f); ok {
					port = p
					break
				}
			}
			if i := strings.Index(line, "pid="); i >= 0 {
				rest := line[i+len("pid="):]
				end := strings.IndexAny(rest, ",)")
				if end < 0 {
					end = len(rest)
				}
				pid = strings.TrimSpace(rest[:end])
			}
		case "windows":
			// netstat: proto local foreign state pid
			if p, ok := portOf(fields[1]); ok {
				port = p
			}
			pid = fields[len(fields)-1]
		}

		if port == "" || pid == "" {
			continue
		}
		if _, err := strconv.Atoi(pid); err != nil {
			continue
		}
		table[pid] = append(table[pid], port)
	}
	return table
}

// portOf extracts the port from a host:port token. Handles "[::]:80" and
// "0.0.0.0:3000"; rejects tokens without a numeric port.
func portOf(tok string) (string, bool) {
	i := strings.LastIndex(tok, ":")
	if i < 0 || i == len(tok)-1 {
		return "", false
	}
	port := tok[i+1:]
	if _, err := strconv.Atoi(port); err != nil {
		return "", false
	}
	return port, true
}
