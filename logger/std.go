// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package logger

import "log"

// std implements Logger on top of the standard library logger, for callers
// that don't have a glog (or other) instance handy.
type std struct{}

// Std is the default Logger used when a caller doesn't supply one
// explicitly, matching the ListenTCPWithTOS/ListenTCPWithTOSLogger pattern:
// an ergonomic default plus an explicit-logger variant for everything else.
var Std Logger = std{}

func (std) Info(args ...interface{})                 { log.Print(args...) }
func (std) Infof(format string, args ...interface{})  { log.Printf(format, args...) }
func (std) Error(args ...interface{})                 { log.Print(args...) }
func (std) Errorf(format string, args ...interface{}) { log.Printf(format, args...) }
func (std) Fatal(args ...interface{})                 { log.Fatal(args...) }
func (std) Fatalf(format string, args ...interface{}) { log.Fatalf(format, args...) }
