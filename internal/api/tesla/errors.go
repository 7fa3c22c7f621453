package tesla

import (
	"errors"
	"fmt"
	"io"
)

// TransportError 传输中断（响应被截断），可以重试
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: truncated transfer: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError 远端返回非 2xx，不重试
type RemoteError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s failed: status=%d body=%s", e.Method, e.URL, e.StatusCode, e.Body)
}

// isTruncated 判断是否为读到一半连接断开
func isTruncated(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
