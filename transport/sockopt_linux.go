//go:build linux

// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSockOptDSCP writes the DSCP value into the TOS field (IPv4) and the
// traffic class (IPv6). DSCP occupies the upper six bits.
func setSockOptDSCP(fd, dscp int) error {
	tos := dscp << 2
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos); err != nil {
		return err
	}
	// Best effort on dual stack sockets
	syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}

func setSockOptTTL(fd, ttl int) error {
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TTL, ttl); err != nil {
		return err
	}
	syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, ttl)
	return nil
}
