package xid

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init sets the snowflake node used by New. Node ids must be unique per
// running server.
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

func New(prefix string) string {
	mu.Lock()
	if node == nil {
		node, _ = snowflake.NewNode(1)
	}
	n := node
	mu.Unlock()
	return fmt.Sprintf("%s-%s", prefix, n.Generate().String())
}
