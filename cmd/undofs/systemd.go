// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2026 The undofs Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/wvdschel/undofs/logger"
)

// notifyReady tells systemd (if undofs is running as a Type=notify
// service) that the mount is ready to serve, and once READY=1 was
// delivered sends a single WATCHDOG=1 ping, whether or not the unit
// enables a watchdog. Both calls are no-ops outside of systemd, where
// NOTIFY_SOCKET is unset.
func notifyReady() {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Debugf("sd_notify READY=1 failed: %v", err)
		return
	}
	if !sent {
		return
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		logger.Debugf("sd_notify WATCHDOG=1 failed: %v", err)
	}
}
