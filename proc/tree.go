package proc

import (
	gproc "github.com/shirou/gopsutil/v4/process"

	"appvet/logger"
)

// killTree force-kills pid and every descendant. Children are collected
// before any kill so reparenting cannot hide them, then killed depth-first.
func killTree(pid int) {
	p, err := gproc.NewProcess(int32(pid))
	if err != nil {
		killPlatform(pid)
		return
	}
	killDescendants(p)
	killPlatform(pid)
}

func killDescendants(p *gproc.Process) {
	children, err := p.Children()
	if err != nil {
		return
	}
	for _, child := range children {
		killDescendants(child)
		if err := child.Kill(); err != nil {
			logger.Debugf("kill of child pid %d failed: %v", child.Pid, err)
		}
	}
}
