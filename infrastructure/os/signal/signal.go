package signal

import (
	"os"
	"os/signal"
	"syscall"
)

// ShutdownRequestChannel can be used to request a shutdown from anywhere in
// the process, the same way an interrupt signal does
var ShutdownRequestChannel = make(chan struct{})

// interruptSignals defines the signals that trigger a shutdown
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// InterruptListener listens for OS signals such as SIGINT (Ctrl+C) and
// shutdown requests from ShutdownRequestChannel. It returns a channel that
// is closed when either is received. Further signals are logged and
// otherwise ignored.
func InterruptListener() chan struct{} {
	return interruptListener(ShutdownRequestChannel)
}

func interruptListener(shutdownRequests <-chan struct{}) chan struct{} {
	c := make(chan struct{})
	go func() {
		interruptChannel := make(chan os.Signal, 1)
		signal.Notify(interruptChannel, interruptSignals...)

		select {
		case sig := <-interruptChannel:
			log.Infof("Received signal (%s). Shutting down...", sig)
		case <-shutdownRequests:
			log.Info("Shutdown requested. Shutting down...")
		}
		close(c)

		for sig := range interruptChannel {
			log.Infof("Received signal (%s). Already shutting down...", sig)
		}
	}()

	return c
}
