package consensus

import (
	"github.com/kaspanet/dagsync/infrastructure/logger"
)

var log = logger.RegisterSubSystem("CNSS")
