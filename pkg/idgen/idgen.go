// Package idgen 提供雪花算法 ID 生成器
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Snowflake 雪花算法 ID 生成器，多实例部署时 nodeID 必须唯一
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake 创建雪花 ID 生成器
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node: %w", err)
	}
	return &Snowflake{node: node}, nil
}

// Generate 生成雪花 ID
func (s *Snowflake) Generate() int64 {
	return s.node.Generate().Int64()
}
