package utilities

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

var (
	nodeOnce sync.Once
	node     *snowflake.Node
	nodeErr  error
)

// defaultNode builds the process snowflake node once, using SNOWFLAKE_NODE
// when it parses and node 1 otherwise.
func defaultNode() (*snowflake.Node, error) {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64); err == nil {
			nodeID = v
		}
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	return node, nodeErr
}

// NewSnowflakeID returns a time-ordered int64 id from the process node.
func NewSnowflakeID() (int64, error) {
	n, err := defaultNode()
	if err != nil {
		return 0, err
	}
	return n.Generate().Int64(), nil
}

// NewToken returns nbytes of crypto/rand encoded as unpadded base64url.
func NewToken(nbytes int) (string, error) {
	if nbytes < 16 {
		return "", errors.New("token size too small")
	}
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
