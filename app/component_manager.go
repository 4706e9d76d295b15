package app

import (
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/app/appmessage"
	"github.com/kaspanet/dagsync/app/protocol/netsync"
	"github.com/kaspanet/dagsync/domain/consensus"
	"github.com/kaspanet/dagsync/domain/consensus/blockstore"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/infrastructure/config"
	"github.com/kaspanet/dagsync/infrastructure/network/connmanager"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server"
	"github.com/kaspanet/dagsync/infrastructure/network/netadapter/server/grpcserver"
)

// ComponentManager is a wrapper for all the dagsyncd services
type ComponentManager struct {
	cfg               *config.Config
	store             *blockstore.BlockStore
	core              *consensus.Core
	netAdapter        *netadapter.NetAdapter
	networkSyncer     *netsync.NetworkSyncer
	connectionManager *connmanager.ConnectionManager
	metricsLogger     *metricsLogger
	blockLogger       *blockLogger
	commitLogger      *commitLogger

	netAdapterStarted        bool
	connectionManagerStarted bool

	started, shutdown int32
}

// NewComponentManager returns a new ComponentManager that talks to its
// peers over gRPC. Use Start() to begin all services within this
// ComponentManager.
func NewComponentManager(cfg *config.Config) (*ComponentManager, error) {
	return newComponentManager(cfg, grpcserver.NewP2PServer(cfg.Listeners, cfg.Proxy))
}

func newComponentManager(cfg *config.Config, p2pServer server.P2PServer) (*ComponentManager, error) {
	committee, err := cfg.Committee.Committee()
	if err != nil {
		return nil, err
	}

	store, err := openBlockStore(cfg)
	if err != nil {
		return nil, err
	}

	blockLogger := &blockLogger{}
	core, err := consensus.NewCore(cfg.AuthorityIndex(), committee, store, blockLogger)
	if err != nil {
		return nil, closeOnError(store, err)
	}

	netAdapter, err := netadapter.NewNetAdapter(&netadapter.Config{
		Authority:        cfg.AuthorityIndex(),
		CommitteeSize:    committee.Len(),
		ProtocolVersion:  appmessage.ProtocolVersion,
		HandshakeTimeout: netadapter.DefaultHandshakeTimeout,
	}, p2pServer)
	if err != nil {
		return nil, closeOnError(store, err)
	}

	connectionManager, err := connmanager.New(cfg.AuthorityIndex(), committeePeers(cfg.Committee),
		netAdapter, cfg.RetryInterval)
	if err != nil {
		return nil, closeOnError(store, err)
	}

	return &ComponentManager{
		cfg:               cfg,
		store:             store,
		core:              core,
		netAdapter:        netAdapter,
		connectionManager: connectionManager,
		blockLogger:       blockLogger,
		commitLogger:      &commitLogger{},
	}, nil
}

func openBlockStore(cfg *config.Config) (*blockstore.BlockStore, error) {
	if cfg.InMemory {
		log.Infof("Keeping blocks in memory")
		return blockstore.NewInMemory()
	}
	log.Infof("Loading blocks from '%s'", cfg.DataDir)
	return blockstore.Open(cfg.DataDir)
}

func closeOnError(store *blockstore.BlockStore, err error) error {
	closeErr := store.Close()
	if closeErr != nil {
		return multierror.Append(err, closeErr)
	}
	return err
}

func committeePeers(committeeFile *config.CommitteeFile) []connmanager.Peer {
	peers := make([]connmanager.Peer, len(committeeFile.Members))
	for i, member := range committeeFile.Members {
		peers[i] = connmanager.Peer{
			Authority: model.AuthorityIndex(i),
			Address:   member.Address,
		}
	}
	return peers
}

// Start launches all the dagsyncd services
func (a *ComponentManager) Start() error {
	if atomic.AddInt32(&a.started, 1) != 1 {
		return errors.New("component manager started more than once")
	}

	log.Tracef("Starting dagsyncd as authority %d", a.cfg.Authority)

	err := a.netAdapter.Start()
	if err != nil {
		return errors.Wrap(err, "error starting the net adapter")
	}
	a.netAdapterStarted = true

	a.networkSyncer, err = netsync.Start(a.netAdapter, a.core, a.cfg.CommitPeriod, a.commitLogger, &netsync.Config{
		LeaderTimeout:  a.cfg.LeaderTimeout,
		BlockBatchSize: a.cfg.BlockBatchSize,
	})
	if err != nil {
		return errors.Wrap(err, "error starting the network syncer")
	}

	a.connectionManager.Start()
	a.connectionManagerStarted = true

	if a.cfg.MetricsInterval > 0 {
		a.metricsLogger = newMetricsLogger(a.networkSyncer.Metrics().Registry(), a.cfg.MetricsInterval)
		a.metricsLogger.start()
	}

	log.Infof("Authority %d is listening on %s with ID %s",
		a.cfg.Authority, a.netAdapter.ListeningAddresses(), a.netAdapter.ID())
	return nil
}

// Stop gracefully shuts down all the dagsyncd services. Services are
// stopped in the reverse order they were started in, and the errors of all
// of them are returned together.
func (a *ComponentManager) Stop() error {
	if atomic.AddInt32(&a.shutdown, 1) != 1 {
		log.Infof("Dagsyncd is already in the process of shutting down")
		return nil
	}

	log.Warnf("Dagsyncd shutting down")

	var result *multierror.Error
	if a.metricsLogger != nil {
		a.metricsLogger.stop()
	}
	if a.connectionManagerStarted {
		result = multierror.Append(result, errors.Wrap(a.connectionManager.Stop(), "error stopping the connection manager"))
	}
	if a.networkSyncer != nil {
		a.networkSyncer.Shutdown()
	}
	if a.netAdapterStarted {
		result = multierror.Append(result, errors.Wrap(a.netAdapter.Stop(), "error stopping the net adapter"))
	}
	result = multierror.Append(result, errors.Wrap(a.store.Close(), "error closing the block store"))

	anchor, commits := a.commitLogger.lastCommit()
	log.Infof("Stopped after %d commits, the last one led by %s, having accepted %d blocks",
		commits, anchor, a.blockLogger.AcceptedBlocks())
	return result.ErrorOrNil()
}
