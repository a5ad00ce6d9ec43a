package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"sync"

	"github.com/John-Robertt/moviecsv/internal/infra/fsx"
)

// Error 表示输出文件层面的失败（创建/写入/提交）。它对一次运行是致命的。
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("写入输出失败（%s）：%v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	errHeaderTwice = errors.New("表头已写入")
	errNoHeader    = errors.New("尚未写入表头")
	errClosed      = errors.New("输出已关闭")
)

// CSV 是一个并发安全的 CSV 记录写入器。
//
// 约束：
// - 一把互斥锁是唯一的同步点；每行在锁内写入并 flush，行之间不会交错
// - 表头必须先于任何记录写入，且只写一次
// - 数据先写入同目录临时文件，Close 时原子 rename 到目标路径；Abort 丢弃临时文件
type CSV struct {
	mu     sync.Mutex
	f      *fsx.AtomicFile
	w      *csv.Writer
	header bool
	rows   int
	closed bool
}

// Open 为 path 创建 CSV 写入器。path 是目录时返回的 *Error 内含 *fsx.PathTypeConflictError。
func Open(path string) (*CSV, error) {
	f, err := fsx.CreateAtomic(path)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	return &CSV{f: f, w: csv.NewWriter(f)}, nil
}

func (s *CSV) WriteHeader(cols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &Error{Op: "header", Err: errClosed}
	}
	if s.header {
		return &Error{Op: "header", Err: errHeaderTwice}
	}
	if err := s.writeLocked(cols); err != nil {
		return &Error{Op: "header", Err: err}
	}
	s.header = true
	return nil
}

func (s *CSV) WriteRecord(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &Error{Op: "write", Err: errClosed}
	}
	if !s.header {
		return &Error{Op: "write", Err: errNoHeader}
	}
	if err := s.writeLocked(row); err != nil {
		return &Error{Op: "write", Err: err}
	}
	s.rows++
	return nil
}

func (s *CSV) writeLocked(row []string) error {
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

// Rows 返回已写入的数据行数（不含表头）。
func (s *CSV) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Close 提交输出文件。重复调用返回 nil。
func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Abort()
		return &Error{Op: "flush", Err: err}
	}
	if err := s.f.Commit(); err != nil {
		return &Error{Op: "commit", Err: err}
	}
	return nil
}

// Abort 丢弃已写入的内容，目标路径保持原样。Close 之后调用无效果。
func (s *CSV) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.f.Abort()
}
