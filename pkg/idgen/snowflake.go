// Package idgen issues time-ordered snowflake ids for storage object names.
package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node   *snowflake.Node
	nodeMu sync.Mutex
)

// Init sets the node id (0-1023) of this process. Every replica needs its
// own id so object names never collide.
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	nodeMu.Lock()
	node = n
	nodeMu.Unlock()
	return nil
}

// NextID returns the next id, initialising node 1 on first use.
func NextID() snowflake.ID {
	nodeMu.Lock()
	if node == nil {
		node, _ = snowflake.NewNode(1)
	}
	n := node
	nodeMu.Unlock()
	return n.Generate()
}

// ObjectName returns a short, sortable name for a stored object.
func ObjectName() string {
	return NextID().Base36()
}
