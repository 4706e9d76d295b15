package logger

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// BackendLog is the logging backend used to create all subsystem loggers.
var BackendLog = NewBackend()

var (
	subsystemLoggers     = make(map[string]*Logger)
	subsystemLoggersLock sync.Mutex
)

// RegisterSubSystem returns the logger of the given subsystem, creating it
// if needed. Subsystem tags are short upper-case identifiers such as "NSYN".
func RegisterSubSystem(subsystem string) *Logger {
	subsystemLoggersLock.Lock()
	defer subsystemLoggersLock.Unlock()

	logger, exists := subsystemLoggers[subsystem]
	if !exists {
		logger = BackendLog.Logger(subsystem)
		subsystemLoggers[subsystem] = logger
	}
	return logger
}

// Get returns a logger of a specific sub system
func Get(tag string) (logger *Logger, ok bool) {
	subsystemLoggersLock.Lock()
	defer subsystemLoggersLock.Unlock()

	logger, ok = subsystemLoggers[tag]
	return
}

// InitLog attaches log file and error log file to the backend log, echoes
// info and above to stdout, and starts the backend.
func InitLog(logFile, errLogFile string) error {
	err := BackendLog.AddLogFile(logFile, LevelTrace)
	if err != nil {
		return errors.Wrapf(err, "error adding log file %s as log rotator for level %s", logFile, LevelTrace)
	}
	err = BackendLog.AddLogFile(errLogFile, LevelWarn)
	if err != nil {
		return errors.Wrapf(err, "error adding log file %s as log rotator for level %s", errLogFile, LevelWarn)
	}
	err = BackendLog.AddStdoutWriter(LevelInfo)
	if err != nil {
		return err
	}
	return BackendLog.Run()
}

// SetLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored. Uninitialized subsystems are dynamically created as
// needed.
func SetLogLevel(subsystemID string, logLevel string) {
	logger := RegisterSubSystem(subsystemID)

	// Defaults to info if the log level is invalid.
	level, _ := LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func SetLogLevels(logLevel string) {
	for _, subsystemID := range SupportedSubsystems() {
		SetLogLevel(subsystemID, logLevel)
	}
}

// SupportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func SupportedSubsystems() []string {
	subsystemLoggersLock.Lock()
	defer subsystemLoggersLock.Unlock()

	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// ParseAndSetLogLevels attempts to parse the specified debug level and set
// the levels accordingly. An appropriate error is returned if anything is
// invalid. The accepted forms are a single level ("debug") or a comma
// separated list of subsystem=level pairs ("NSYN=trace,CNSS=debug").
func ParseAndSetLogLevels(logLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(logLevel, ",") && !strings.Contains(logLevel, "=") {
		if _, ok := LevelFromString(logLevel); !ok {
			return errors.Errorf("the specified debug level [%s] is invalid", logLevel)
		}
		SetLogLevels(logLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(logLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return errors.Errorf("the specified debug level contains an invalid "+
				"subsystem/level pair [%s]", logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, subsysLevel := fields[0], fields[1]
		if _, exists := Get(subsysID); !exists {
			return errors.Errorf("the specified subsystem [%s] is invalid -- "+
				"supported subsystems are %s", subsysID, strings.Join(SupportedSubsystems(), ", "))
		}
		if _, ok := LevelFromString(subsysLevel); !ok {
			return errors.Errorf("the specified debug level [%s] is invalid", subsysLevel)
		}

		SetLogLevel(subsysID, subsysLevel)
	}
	return nil
}

// LogClosure is a closure that can be printed with %s to be used to
// generate expensive-to-create data for a detailed log level and avoid doing
// the work if the data isn't printed.
type LogClosure func() string

func (c LogClosure) String() string {
	return c()
}

// NewLogClosure casts a function to a LogClosure.
// See LogClosure for details.
func NewLogClosure(c func() string) LogClosure {
	return c
}

// SubsystemsDescription returns a printable list of the registered subsystems.
func SubsystemsDescription() string {
	return fmt.Sprintf("Supported subsystems %s", SupportedSubsystems())
}
