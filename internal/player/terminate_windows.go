//go:build windows

package player

import "os"

// Windows has no SIGTERM for arbitrary processes; Kill is the closest request.
func terminate(p *os.Process) error { return p.Kill() }
