package blockstore

import (
	"github.com/kaspanet/dagsync/infrastructure/logger"
)

var log = logger.RegisterSubSystem("BSTR")
