/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package signals provides the termination-handler run.Group actor for
// cmd/controller: it returns when os/signal delivers SIGINT/SIGTERM,
// so the group interrupts the other actors too, or when the group's
// interrupt func closes its cancel channel.
package signals

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
)

// Actor returns the (execute, interrupt) pair oklog/run.Group expects
// for graceful shutdown on SIGINT/SIGTERM.
func Actor(log logr.Logger) (execute func() error, interrupt func(error)) {
	term := make(chan os.Signal, 1)
	cancel := make(chan struct{})
	signal.Notify(term, os.Interrupt, syscall.SIGTERM)

	execute = func() error {
		select {
		case sig := <-term:
			log.Info("received termination signal, shutting down", "signal", sig.String())
		case <-cancel:
		}
		return nil
	}
	interrupt = func(error) {
		close(cancel)
	}
	return execute, interrupt
}
