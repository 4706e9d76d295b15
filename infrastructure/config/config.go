package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/infrastructure/logger"
	"github.com/kaspanet/dagsync/util/network"
	"github.com/kaspanet/dagsync/util/profiling"
	"github.com/kaspanet/dagsync/version"
)

const (
	defaultConfigFilename    = "dagsyncd.conf"
	defaultCommitteeFilename = "committee.toml"
	defaultDataDirname       = "data"
	defaultLogDirname        = "logs"
	defaultLogFilename       = "dagsyncd.log"
	defaultErrLogFilename    = "dagsyncd_err.log"
	defaultLogLevel          = "info"
	defaultLeaderTimeout     = time.Second
	defaultBlockBatchSize    = 10
	defaultCommitPeriod      = 2
	defaultRetryInterval     = 5 * time.Second
	defaultMetricsInterval   = time.Minute
)

// DefaultAppDir is the default home directory for dagsyncd
var DefaultAppDir = btcutil.AppDataDir("dagsyncd", false)

// Flags defines the configuration options for dagsyncd.
//
// See loadConfig for details on the configuration load process.
type Flags struct {
	ShowVersion     bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile      string        `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDir          string        `short:"b" long:"appdir" description:"Directory to store data"`
	LogDir          string        `long:"logdir" description:"Directory to log output"`
	DebugLevel      string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Authority       uint32        `short:"a" long:"authority" description:"Index of this node in the committee"`
	CommitteeFile   string        `long:"committee" description:"Path to the TOML file listing the committee members"`
	Listeners       []string      `long:"listen" description:"Add an interface/port to listen for connections (default: the address of this node in the committee file)"`
	Proxy           string        `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	LeaderTimeout   time.Duration `long:"leadertimeout" description:"How long to wait for a new own block before forcing one"`
	BlockBatchSize  int           `long:"blockbatchsize" description:"Maximum number of own blocks read from the state at once when serving a peer"`
	CommitPeriod    uint64        `long:"commitperiod" description:"Number of rounds between leader rounds"`
	RetryInterval   time.Duration `long:"retryinterval" description:"How often to redial committee members that are not connected"`
	MetricsInterval time.Duration `long:"metricsinterval" description:"How often to log synchronization metrics, 0 to disable"`
	InMemory        bool          `long:"inmemory" description:"Keep blocks in memory instead of on disk"`
	Profile         string        `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65535"`
}

// Config is the fully resolved dagsyncd configuration
type Config struct {
	*Flags
	DataDir   string
	Committee *CommitteeFile
}

// Self returns the committee entry of this node
func (cfg *Config) Self() CommitteeMember {
	return cfg.Committee.Members[cfg.Authority]
}

// LogFile returns the path of the main log file
func (cfg *Config) LogFile() string {
	return filepath.Join(cfg.LogDir, defaultLogFilename)
}

// ErrLogFile returns the path of the warnings and errors log file
func (cfg *Config) ErrLogFile() string {
	return filepath.Join(cfg.LogDir, defaultErrLogFilename)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultAppDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

func newConfigParser(cfgFlags *Flags, options flags.Options) *flags.Parser {
	return flags.NewParser(cfgFlags, options)
}

func defaultFlags() *Flags {
	return &Flags{
		AppDir:          DefaultAppDir,
		DebugLevel:      defaultLogLevel,
		LeaderTimeout:   defaultLeaderTimeout,
		BlockBatchSize:  defaultBlockBatchSize,
		CommitPeriod:    defaultCommitPeriod,
		RetryInterval:   defaultRetryInterval,
		MetricsInterval: defaultMetricsInterval,
	}
}

// LoadConfig initializes and parses the config using a config file and
// command line options
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
// 	1) Start with a default config with sane settings
// 	2) Pre-parse the command line to check for an alternative config file
// 	3) Load configuration file overwriting defaults with any specified options
// 	4) Parse CLI options and overwrite/add any specified options
// 	5) Load the committee file
//
// Command line options always take precedence.
func loadConfig(args []string) (*Config, error) {
	cfgFlags := defaultFlags()

	// Pre-parse the command line options to see if an alternative config
	// file, app directory or the version flag was specified. Any errors
	// aside from the help message error can be ignored here since they will
	// be caught by the final parse below.
	preCfg := *cfgFlags
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, err
		}
	}

	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.Version())
		os.Exit(0)
	}

	appDir := cleanAndExpandPath(preCfg.AppDir)
	configFile := preCfg.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(appDir, defaultConfigFilename)
	}

	parser := newConfigParser(cfgFlags, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok || preCfg.ConfigFile != "" {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %s\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, errors.Wrapf(err, "error parsing config file %s", configFile)
		}
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, err
	}

	cfg := &Config{Flags: cfgFlags}
	cfg.AppDir = cleanAndExpandPath(cfg.AppDir)
	err = os.MkdirAll(cfg.AppDir, 0700)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create app directory %s", cfg.AppDir)
	}
	cfg.DataDir = filepath.Join(cfg.AppDir, defaultDataDirname)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppDir, defaultLogDirname)
	}
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	if cfg.CommitteeFile == "" {
		cfg.CommitteeFile = filepath.Join(cfg.AppDir, defaultCommitteeFilename)
	}
	cfg.CommitteeFile = cleanAndExpandPath(cfg.CommitteeFile)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", logger.SupportedSubsystems())
		os.Exit(0)
	}

	err = cfg.validate()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}

	cfg.Committee, err = LoadCommitteeFile(cfg.CommitteeFile)
	if err != nil {
		return nil, err
	}
	if int(cfg.Authority) >= len(cfg.Committee.Members) {
		return nil, errors.Errorf("authority %d is not a member of the committee of %d in %s",
			cfg.Authority, len(cfg.Committee.Members), cfg.CommitteeFile)
	}
	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{cfg.Self().Address}
	}
	cfg.Listeners, err = network.NormalizeAddresses(cfg.Listeners, network.DefaultPort)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.LeaderTimeout <= 0 {
		return errors.Errorf("leadertimeout must be positive, got %s", cfg.LeaderTimeout)
	}
	if cfg.BlockBatchSize <= 0 {
		return errors.Errorf("blockbatchsize must be positive, got %d", cfg.BlockBatchSize)
	}
	if cfg.CommitPeriod == 0 {
		return errors.New("commitperiod must be positive")
	}
	if cfg.RetryInterval <= 0 {
		return errors.Errorf("retryinterval must be positive, got %s", cfg.RetryInterval)
	}
	if cfg.MetricsInterval < 0 {
		return errors.Errorf("metricsinterval can't be negative, got %s", cfg.MetricsInterval)
	}
	if cfg.Profile != "" {
		return profiling.ValidatePort(cfg.Profile)
	}
	return nil
}

// AuthorityIndex returns the committee index of this node
func (cfg *Config) AuthorityIndex() model.AuthorityIndex {
	return model.AuthorityIndex(cfg.Authority)
}
