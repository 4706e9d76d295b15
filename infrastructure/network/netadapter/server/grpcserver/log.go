package grpcserver

import (
	"github.com/kaspanet/dagsync/infrastructure/logger"
	"github.com/kaspanet/dagsync/util/panics"
)

var log = logger.RegisterSubSystem("GRPC")
var spawn = panics.GoroutineWrapperFunc(log)
