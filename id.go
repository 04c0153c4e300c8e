package resp

import (
	"os"

	"github.com/bwmarrin/snowflake"
)

// Connection IDs are snowflakes: unique per process, roughly time ordered,
// which keeps interleaved connection logs sortable.
var idNode = newIDNode()

func newIDNode() *snowflake.Node {
	node, err := snowflake.NewNode(int64(os.Getpid()) % (1 << snowflake.NodeBits))
	if err != nil {
		panic(err)
	}
	return node
}

func nextConnectionID() snowflake.ID {
	return idNode.Generate()
}
