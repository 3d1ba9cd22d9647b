package worker

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// rcvBufBytes is the socket receive buffer the worker requests from
// the kernel, matching original_source/probe/multiproc_probe.py's
// RCVBUF_SIZE (128 MiB). The kernel may grant less (doubled then
// capped by net.core.rmem_max); the actual grant is read back and
// logged rather than assumed.
const rcvBufBytes = 128 * 1024 * 1024

// listenReusePort opens a UDP socket bound to addr with SO_REUSEPORT
// set, so the kernel fans datagrams out across one socket per worker
// without userspace coordination. Grounded on
// _examples/jroosing-HydraDNS/internal/server/udp_server.go's
// listenReusePort.
func listenReusePort(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	var controlErr error
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				controlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if controlErr != nil {
		pc.Close()
		return nil, fmt.Errorf("SO_REUSEPORT: %w", controlErr)
	}

	return pc.(*net.UDPConn), nil
}

// setRecvBuffer requests rcvBufBytes worth of kernel receive buffer
// and reads back the value the kernel actually granted.
func setRecvBuffer(conn *net.UDPConn) (granted int, err error) {
	if err := conn.SetReadBuffer(rcvBufBytes); err != nil {
		return 0, fmt.Errorf("SetReadBuffer: %w", err)
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("SyscallConn: %w", err)
	}

	var getErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		granted, getErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	})
	if ctrlErr != nil {
		return 0, fmt.Errorf("Control: %w", ctrlErr)
	}
	if getErr != nil {
		return 0, fmt.Errorf("getsockopt SO_RCVBUF: %w", getErr)
	}
	return granted, nil
}
