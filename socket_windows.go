//go:build windows

package vox

import (
	"net/netip"

	"golang.org/x/sys/windows"
)

func platformNewSocket(family AddrFamily, sockType int, opts socketOptions) (int, error) {
	domain := windows.AF_INET
	if family == FamilyV6 {
		domain = windows.AF_INET6
	}

	proto := windows.IPPROTO_TCP
	if sockType == sockDgram {
		proto = windows.IPPROTO_UDP
	}

	h, err := windows.Socket(domain, sockType, proto)
	if err != nil {
		return -1, err
	}
	if err := windows.SetNonblock(h, true); err != nil {
		_ = windows.Closesocket(h)
		return -1, err
	}

	if opts.reuseAddr {
		if err := windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
			_ = windows.Closesocket(h)
			return -1, err
		}
	}

	return int(h), nil
}

func toSockaddr(addr Addr) windows.Sockaddr {
	if addr.Family() == FamilyV4 {
		sa := &windows.SockaddrInet4{Port: int(addr.Port())}
		sa.Addr = addr.Netip().As4()
		return sa
	}
	sa := &windows.SockaddrInet6{Port: int(addr.Port())}
	sa.Addr = addr.Netip().As16()
	return sa
}

func fromSockaddr(sa windows.Sockaddr) Addr {
	switch v := sa.(type) {
	case *windows.SockaddrInet4:
		return AddrFromNetip(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *windows.SockaddrInet6:
		return AddrFromNetip(netip.AddrFrom16(v.Addr), uint16(v.Port))
	default:
		return Addr{}
	}
}

func platformBind(fd int, addr Addr) error {
	return windows.Bind(windows.Handle(fd), toSockaddr(addr))
}

func platformConnect(fd int, addr Addr) error {
	err := windows.Connect(windows.Handle(fd), toSockaddr(addr))
	if err == windows.WSAEWOULDBLOCK || err == windows.WSAEINPROGRESS {
		return ErrWouldBlock
	}
	return err
}

func platformListen(fd int, backlog int) error {
	return windows.Listen(windows.Handle(fd), backlog)
}

func platformAccept(fd int) (int, Addr, error) {
	nh, sa, err := windows.Accept(windows.Handle(fd))
	if err != nil {
		if err == windows.WSAEWOULDBLOCK {
			return -1, Addr{}, ErrWouldBlock
		}
		return -1, Addr{}, err
	}
	if err := windows.SetNonblock(nh, true); err != nil {
		_ = windows.Closesocket(nh)
		return -1, Addr{}, err
	}
	return int(nh), fromSockaddr(sa), nil
}

func platformLocalAddr(fd int, family AddrFamily) (Addr, error) {
	sa, err := windows.Getsockname(windows.Handle(fd))
	if err != nil {
		return Addr{}, err
	}
	return fromSockaddr(sa), nil
}

func platformSocketError(fd int) error {
	errno, err := windows.GetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return windows.Errno(errno)
	}
	return nil
}

// platformSocketRead/platformSocketWrite use Recvfrom/Sendto rather than a
// plain Recv/Send, since x/sys/windows exposes sockets only through the
// from/to-address syscalls; per MSDN, the to/from address is ignored by
// Winsock for connection-oriented (stream) sockets.
func platformSocketRead(fd int, buf []byte) (int, error) {
	n, _, err := windows.Recvfrom(windows.Handle(fd), buf, 0)
	if err == windows.WSAEWOULDBLOCK {
		return 0, ErrWouldBlock
	}
	return n, err
}

var tcpWriteSockaddr = &windows.SockaddrInet4{}

func platformSocketWrite(fd int, buf []byte) (int, error) {
	err := windows.Sendto(windows.Handle(fd), buf, 0, tcpWriteSockaddr)
	if err == windows.WSAEWOULDBLOCK {
		return 0, ErrWouldBlock
	}
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

func platformSocketClose(fd int) error {
	return windows.Closesocket(windows.Handle(fd))
}

func platformShutdownWrite(fd int) error {
	return windows.Shutdown(windows.Handle(fd), windows.SHUT_WR)
}

func platformSendto(fd int, buf []byte, dst Addr) error {
	err := windows.Sendto(windows.Handle(fd), buf, 0, toSockaddr(dst))
	if err == windows.WSAEWOULDBLOCK {
		return ErrWouldBlock
	}
	return err
}

func platformRecvfrom(fd int, buf []byte) (int, Addr, error) {
	n, sa, err := windows.Recvfrom(windows.Handle(fd), buf, 0)
	if err != nil {
		if err == windows.WSAEWOULDBLOCK {
			return 0, Addr{}, ErrWouldBlock
		}
		return 0, Addr{}, err
	}
	var addr Addr
	if sa != nil {
		addr = fromSockaddr(sa)
	}
	return n, addr, nil
}
