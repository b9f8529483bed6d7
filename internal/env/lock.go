package env

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

type DaemonLock struct {
	file *os.File
	path string
}

func GetLockPath(homeDir string) string {
	return PathsFor(homeDir).LockFile
}

// AcquireLock 获取指定主目录的文件锁，非阻塞
// 如果已经被锁定，返回 ErrAlreadyRunning
func AcquireLock(homeDir string) (*DaemonLock, error) {
	path := GetLockPath(homeDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, ErrAlreadyRunning
	}

	return &DaemonLock{
		file: f,
		path: path,
	}, nil
}

// CheckLock 检查锁是否被占用
// 返回 nil 表示 daemon 正在运行
func CheckLock(homeDir string) error {
	path := GetLockPath(homeDir)
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if os.IsNotExist(err) {
		return errors.New("daemon not running (lock file missing)")
	}
	readOnly := false
	if err != nil {
		if !os.IsPermission(err) {
			return err
		}
		f, err = os.Open(path)
		if err != nil {
			return err
		}
		readOnly = true
	}
	defer f.Close()

	lockType := unix.LOCK_EX
	if readOnly {
		lockType = unix.LOCK_SH
	}
	if err := unix.Flock(int(f.Fd()), lockType|unix.LOCK_NB); err != nil {
		// 获取锁失败，说明正在运行
		return nil
	}

	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return errors.New("daemon not running")
}

// Release 释放锁，锁文件保留给 CheckLock 使用
func (l *DaemonLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
