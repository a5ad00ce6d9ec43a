package fsx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// 通过可替换的函数指针，让测试能稳定模拟 rename 失败。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// AtomicFile 是一个“写临时文件，Commit 时 rename 到目标路径”的文件。
//
// - 临时文件必须与目标文件在同目录，以保证 rename 的原子性
// - Commit 之前目标路径保持原样；Abort 或写入失败不会留下半个文件
// - Commit/Abort 可重复调用，只有第一次生效
type AtomicFile struct {
	*os.File

	dst  string
	once sync.Once
	err  error
}

// CreateAtomic 在 path 所在目录创建临时文件。path 已存在且不是普通文件时返回 *PathTypeConflictError。
func CreateAtomic(path string) (*AtomicFile, error) {
	dst := filepath.Clean(path)
	if err := checkRegularOrMissing(dst); err != nil {
		return nil, err
	}

	dir, name := filepath.Split(dst)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	// 临时文件前缀带 '.'，避免被当成正式输出。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &AtomicFile{File: tmp, dst: dst}, nil
}

// Commit 落盘（fsync）并 rename 到目标路径。
func (f *AtomicFile) Commit() error {
	f.once.Do(func() {
		tmpName := f.File.Name()
		f.err = commit(f.File, f.dst, 0o644)
		if f.err != nil {
			_ = os.Remove(tmpName)
		}
	})
	return f.err
}

// Abort 丢弃临时文件，目标路径不受影响。
func (f *AtomicFile) Abort() {
	f.once.Do(func() {
		_ = f.File.Close()
		_ = os.Remove(f.File.Name())
		f.err = errors.New("aborted")
	})
}

func commit(tmp *os.File, dst string, perm os.FileMode) error {
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := renameFunc(tmp.Name(), dst); err != nil {
		return err
	}
	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(filepath.Dir(dst))
	return nil
}

// WriteFileAtomicReplace 原子写入并覆盖 path（临时文件 + rename）。
func WriteFileAtomicReplace(path string, data []byte) error {
	f, err := CreateAtomic(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return err
	}
	return f.Commit()
}

func checkRegularOrMissing(path string) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return &PathTypeConflictError{Path: path, Want: "file", Got: "dir"}
	}
	if !fi.Mode().IsRegular() {
		return &PathTypeConflictError{Path: path, Want: "regular file", Got: fi.Mode().Type().String()}
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
