//go:build windows

// lock_windows.go is the Windows counterpart to lock.go. It skips flock
// (unavailable) and just relies on the exclusive open below; LockFileEx
// would be the more robust route but nothing in this engine's Windows path
// needs it yet.
//
// Reference: RocksDB v10.7.5
//   - env/env_win.cc (WinEnvIO::LockFile)
package vfs

import (
	"io"
	"os"
)

type fileLock struct {
	f *os.File
}

func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	return l.f.Close()
}
