package memoryserver

import (
	"github.com/kaspanet/dagsync/infrastructure/logger"
	"github.com/kaspanet/dagsync/util/panics"
)

var log = logger.RegisterSubSystem("MEMS")
var spawn = panics.GoroutineWrapperFunc(log)
