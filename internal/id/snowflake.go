package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

const defaultNodeID = 1

var (
	node *snowflake.Node
	once sync.Once
)

// Init 使用指定节点号初始化 Snowflake 节点，只有第一次调用生效
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New 生成按时间递增的全局唯一 ID
func New() int64 {
	_ = Init(defaultNodeID)
	return node.Generate().Int64()
}

// NewString 以十进制字符串形式返回新 ID，用于导入消息
func NewString() string {
	return strconv.FormatInt(New(), 10)
}
