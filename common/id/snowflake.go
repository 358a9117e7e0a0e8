package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID. Each relay
// process sharing a bus should use a distinct node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new time-ordered unique ID.
func New() int64 {
	return node.Generate().Int64()
}

// NewString is New rendered in base 10, the form carried in bus envelopes.
func NewString() string {
	return node.Generate().String()
}
