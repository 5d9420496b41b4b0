//go:build !unix

package main

import "os"

// notifyToggle is a no-op on platforms without user signals; auto-push is
// then controlled only by configuration and start flags.
func notifyToggle(chan<- os.Signal) {}
