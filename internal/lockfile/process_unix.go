//go:build unix

package lockfile

import (
	"errors"
	"syscall"
)

// processAlive 信号 0 只检查进程是否存在
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
