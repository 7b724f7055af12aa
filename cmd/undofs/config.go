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
	"fmt"

	"github.com/mvo5/goconfigparser"
)

// applyConfigFile loads a "[undofs]"-sectioned INI file and fills in
// options from it. For the boolean options (debug, seccomp, no-cache)
// a flag set on the command line wins and the config file only fills
// gaps. clone-rate and clone-burst carry flag defaults, so whether they
// were given on the command line is not tracked: a value for them in
// the config file always replaces the command-line value.
func applyConfigFile(path string, opts *options) error {
	cfg := goconfigparser.New()
	if err := cfg.ReadFile(path); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if !opts.Debug {
		if v, err := cfg.GetBool("undofs", "debug"); err == nil {
			opts.Debug = v
		}
	}
	if !opts.Seccomp {
		if v, err := cfg.GetBool("undofs", "seccomp"); err == nil {
			opts.Seccomp = v
		}
	}
	if !opts.NoCache {
		if v, err := cfg.GetBool("undofs", "no-cache"); err == nil {
			opts.NoCache = v
		}
	}
	if v, err := cfg.Get("undofs", "clone-rate"); err == nil && v != "" {
		var rate float64
		if _, err := fmt.Sscanf(v, "%f", &rate); err == nil {
			opts.CloneRate = rate
		}
	}
	if v, err := cfg.GetInt("undofs", "clone-burst"); err == nil {
		opts.CloneBurst = v
	}

	return nil
}
