package config

import (
	"github.com/kaspanet/dagsync/infrastructure/logger"
)

var log = logger.RegisterSubSystem("CNFG")
