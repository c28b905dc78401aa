// Package idgen 基于 snowflake 生成业务流水号
package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init 以指定节点号初始化生成器，多实例部署时每个实例需使用不同节点号
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("failed to init snowflake node %d: %w", nodeID, err)
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

func current() *snowflake.Node {
	mu.Lock()
	defer mu.Unlock()
	if node == nil {
		// 未显式初始化时退化为 0 号节点
		node, _ = snowflake.NewNode(0)
	}
	return node
}

// GenID 生成一个新的 ID
func GenID() int64 {
	return current().Generate().Int64()
}

// GenIDString 生成字符串形式的 ID
func GenIDString() string {
	return current().Generate().String()
}

// WithPrefix 生成带业务前缀的流水号，例如 TRF1789...
func WithPrefix(prefix string) string {
	return prefix + GenIDString()
}
