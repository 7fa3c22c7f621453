package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Name 发票目录下的锁文件名
const Name = ".tesinvoice.lock"

// ErrLocked 另一个进程持有锁
var ErrLocked = errors.New("lock held by another process")

// Lock 独占锁，内容为持有者 PID
type Lock struct {
	path string
}

// Acquire 以 O_EXCL 创建锁文件；持有者进程已不存在时清理后重试一次
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	lock, err := create(path)
	if !errors.Is(err, ErrLocked) {
		return lock, err
	}

	pid, ok := holderPID(path)
	if !ok || processAlive(pid) {
		return nil, err
	}
	if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale lock: %w", rerr)
	}
	return create(path)
}

func create(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		holder, _ := os.ReadFile(path)
		return nil, fmt.Errorf("%w: %s (pid %s)", ErrLocked, path, strings.TrimSpace(string(holder)))
	}
	if err != nil {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	return &Lock{path: path}, nil
}

func holderPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Path 锁文件路径
func (l *Lock) Path() string {
	return l.path
}

// Release 删除锁文件，可重复调用
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
