//go:build linux

package rendezvous

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/cray-hpe/powerapid/internal/arb"
)

// peerCreds obtains the connecting peer's kernel-verified uid/gid/pid via
// SO_PEERCRED, exactly as the original daemon calls getsockopt(2) -- the
// daemon never trusts any identifier the peer sends in a frame.
func peerCreds(conn *net.UnixConn) (arb.PeerCreds, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return arb.PeerCreds{}, fmt.Errorf("syscall conn: %w", err)
	}

	var ucred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return arb.PeerCreds{}, fmt.Errorf("control: %w", err)
	}
	if sockErr != nil {
		return arb.PeerCreds{}, fmt.Errorf("getsockopt SO_PEERCRED: %w", sockErr)
	}

	return arb.PeerCreds{
		UID: ucred.Uid,
		GID: ucred.Gid,
		PID: int32(ucred.Pid),
	}, nil
}
