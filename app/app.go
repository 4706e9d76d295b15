package app

import (
	"fmt"
	"os"

	"github.com/kaspanet/dagsync/infrastructure/config"
	"github.com/kaspanet/dagsync/infrastructure/logger"
	"github.com/kaspanet/dagsync/infrastructure/os/signal"
	"github.com/kaspanet/dagsync/util/panics"
	"github.com/kaspanet/dagsync/util/profiling"
	"github.com/kaspanet/dagsync/version"
)

// StartApp starts the dagsyncd node and blocks until it's interrupted
func StartApp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	err = logger.InitLog(cfg.LogFile(), cfg.ErrLogFile())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer logger.BackendLog.Close()
	defer panics.HandlePanic(log, "MAIN", nil)

	err = logger.ParseAndSetLogLevels(cfg.DebugLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	// Show version at startup.
	log.Infof("Version %s", version.Version())

	interrupt := signal.InterruptListener()

	if cfg.Profile != "" {
		err := profiling.Start(cfg.Profile, log)
		if err != nil {
			log.Errorf("%+v", err)
			return err
		}
	}

	componentManager, err := NewComponentManager(cfg)
	if err != nil {
		log.Errorf("%+v", err)
		return err
	}
	defer func() {
		err := componentManager.Stop()
		if err != nil {
			log.Errorf("%+v", err)
		}
		log.Info("Dagsyncd shutdown complete")
	}()

	err = componentManager.Start()
	if err != nil {
		log.Errorf("%+v", err)
		return err
	}

	<-interrupt
	return nil
}
