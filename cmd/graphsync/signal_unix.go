//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyToggle registers the auto-push toggle signal (SIGUSR1).
func notifyToggle(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGUSR1)
}
