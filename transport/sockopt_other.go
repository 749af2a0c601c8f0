//go:build !linux

// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package transport

// QoS socket options are only wired on Linux; elsewhere they are accepted
// and ignored so session setup does not fail.
func setSockOptDSCP(fd, dscp int) error { return nil }

func setSockOptTTL(fd, ttl int) error { return nil }
