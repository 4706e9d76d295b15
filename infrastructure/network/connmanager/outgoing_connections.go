package connmanager

import (
	"context"
)

// checkOutgoingConnections dials every target that has no live connection
func (c *ConnectionManager) checkOutgoingConnections() {
	for _, peer := range c.targets {
		if c.ctx.Err() != nil {
			return
		}
		if c.netAdapter.IsConnectedTo(peer.Authority) {
			continue
		}

		log.Debugf("Connecting to authority %d at %s", peer.Authority, peer.Address)
		c.attemptsLock.Lock()
		c.attempts[peer.Authority]++
		c.attemptsLock.Unlock()

		err := c.initiateConnection(peer.Address)
		if err != nil {
			log.Infof("Couldn't connect to authority %d at %s: %s", peer.Authority, peer.Address, err)
		}
	}
}

func (c *ConnectionManager) initiateConnection(address string) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.retryInterval)
	defer cancel()

	return c.netAdapter.Connect(ctx, address)
}
