package app

import (
	"github.com/kaspanet/dagsync/infrastructure/logger"
	"github.com/kaspanet/dagsync/util/panics"
)

var log = logger.RegisterSubSystem("DAGS")
var spawn = panics.GoroutineWrapperFunc(log)
