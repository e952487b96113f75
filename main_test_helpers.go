package main

import (
	"bytes"
	"testing"
)

// useBufferWriters 在测试期间把 CLI 输出重定向到内存缓冲，结束后自动还原。
func useBufferWriters(t *testing.T) {
	t.Helper()
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = new(bytes.Buffer), new(bytes.Buffer)
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
}

func stdOutBuffer() *bytes.Buffer { return asBuffer(stdOut) }

func stdErrBuffer() *bytes.Buffer { return asBuffer(stdErr) }

// asBuffer 在未调用 useBufferWriters 时返回空缓冲，避免断言处出现 nil 解引用。
func asBuffer(w any) *bytes.Buffer {
	if buf, ok := w.(*bytes.Buffer); ok {
		return buf
	}
	return new(bytes.Buffer)
}
