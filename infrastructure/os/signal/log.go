package signal

import (
	"github.com/kaspanet/dagsync/infrastructure/logger"
)

var log = logger.RegisterSubSystem("DAGS")
