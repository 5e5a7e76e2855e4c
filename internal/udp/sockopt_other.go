//go:build !unix

package udp

import "syscall"

func broadcastControl(_, _ string, _ syscall.RawConn) error { return nil }
