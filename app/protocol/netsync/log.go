package netsync

import (
	"github.com/kaspanet/dagsync/infrastructure/logger"
	"github.com/kaspanet/dagsync/util/panics"
)

var log = logger.RegisterSubSystem("NSYN")
var spawn = panics.GoroutineWrapperFunc(log)
