package utilities

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// IDGenerator hands out snowflake ids for table rows. One generator must be
// shared per process so ids from the same node never collide.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator builds a generator for the given snowflake node (0..1023).
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &IDGenerator{node: node}, nil
}

// IDGeneratorFromEnv reads the node id from SNOWFLAKE_NODE, defaulting to 1
// when it is missing or malformed.
func IDGeneratorFromEnv() (*IDGenerator, error) {
	nodeID, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64)
	if err != nil {
		nodeID = 1
	}
	return NewIDGenerator(nodeID)
}

// Next returns a new snowflake id.
func (g *IDGenerator) Next() int64 {
	return g.node.Generate().Int64()
}
