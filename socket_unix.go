//go:build unix

package vox

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

func platformNewSocket(family AddrFamily, sockType int, opts socketOptions) (int, error) {
	domain := unix.AF_INET
	if family == FamilyV6 {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, sockType|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}

	if opts.reuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
	}
	if opts.reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
	}

	return fd, nil
}

func toSockaddr(addr Addr) unix.Sockaddr {
	if addr.Family() == FamilyV4 {
		sa := &unix.SockaddrInet4{Port: int(addr.Port())}
		b := addr.Netip().As4()
		sa.Addr = b
		return sa
	}
	sa := &unix.SockaddrInet6{Port: int(addr.Port())}
	sa.Addr = addr.Netip().As16()
	return sa
}

func fromSockaddr(sa unix.Sockaddr) Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return AddrFromNetip(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return AddrFromNetip(netip.AddrFrom16(v.Addr), uint16(v.Port))
	default:
		return Addr{}
	}
}

func platformBind(fd int, addr Addr) error {
	return unix.Bind(fd, toSockaddr(addr))
}

func platformConnect(fd int, addr Addr) error {
	err := unix.Connect(fd, toSockaddr(addr))
	if err == unix.EINPROGRESS {
		return ErrWouldBlock
	}
	return err
}

func platformListen(fd int, backlog int) error {
	return unix.Listen(fd, backlog)
}

func platformAccept(fd int) (int, Addr, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, Addr{}, ErrWouldBlock
		}
		return -1, Addr{}, err
	}
	return nfd, fromSockaddr(sa), nil
}

func platformLocalAddr(fd int, family AddrFamily) (Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Addr{}, err
	}
	return fromSockaddr(sa), nil
}

func platformSocketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

func platformSocketRead(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, ErrWouldBlock
	}
	return n, err
}

func platformSocketWrite(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return n, ErrWouldBlock
	}
	return n, err
}

func platformSocketClose(fd int) error {
	return unix.Close(fd)
}

func platformShutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

func platformSendto(fd int, buf []byte, dst Addr) error {
	err := unix.Sendto(fd, buf, 0, toSockaddr(dst))
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return ErrWouldBlock
	}
	return err
}

func platformRecvfrom(fd int, buf []byte) (int, Addr, error) {
	n, sa, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
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
