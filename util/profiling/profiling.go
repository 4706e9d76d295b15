package profiling

import (
	"net"
	"net/http"
	"strconv"

	// Required for profiling
	_ "net/http/pprof"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/infrastructure/logger"
	"github.com/kaspanet/dagsync/util/panics"
)

// ValidatePort returns an error unless port is a number between 1024 and 65535
func ValidatePort(port string) error {
	profilePort, err := strconv.Atoi(port)
	if err != nil || profilePort < 1024 || profilePort > 65535 {
		return errors.Errorf("the profile port must be between 1024 and 65535, got %s", port)
	}
	return nil
}

// Start serves pprof on all interfaces at port until the process exits.
// Requests to / are redirected to /debug/pprof.
func Start(port string, log *logger.Logger) error {
	err := ValidatePort(port)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", net.JoinHostPort("", port))
	if err != nil {
		return errors.Wrap(err, "failed to start the profile server")
	}

	spawn := panics.GoroutineWrapperFunc(log)
	spawn("profiling.Start", func() {
		log.Infof("Profile server listening on %s", listener.Addr())
		mux := http.NewServeMux()
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
		mux.Handle("/", http.RedirectHandler("/debug/pprof/", http.StatusSeeOther))
		log.Error(http.Serve(listener, mux))
	})
	return nil
}
