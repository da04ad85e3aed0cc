package clusterer

import (
	"context"
	"fmt"
	"strings"

	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
)

const (
	DefaultNumClusters    = 8
	DefaultMinClusterSize = 10
)

// EmbeddingOptions 向量聚类参数
type EmbeddingOptions struct {
	NumClusters    int // 目标簇数
	MinClusterSize int // 消息少于该数量时不聚类
	MaxIterations  int
	Seeds          SeedFunc
	UMAP           UMAPOptions
}

// EmbeddingClusterer 二维投影 + k-means 聚类，话题名称由后续分析阶段补全
type EmbeddingClusterer struct {
	options EmbeddingOptions
}

func NewEmbeddingClusterer(options EmbeddingOptions) *EmbeddingClusterer {
	if options.NumClusters <= 0 {
		options.NumClusters = DefaultNumClusters
	}
	if options.MinClusterSize <= 0 {
		options.MinClusterSize = DefaultMinClusterSize
	}
	if options.Seeds == nil {
		options.Seeds = EvenlySpacedSeeds
	}
	return &EmbeddingClusterer{options: options}
}

func (c *EmbeddingClusterer) Cluster(ctx context.Context, messages []report.CategorizedMessage, language report.Language) (*Result, error) {
	messages = substantiveOnly(messages)
	logger.Infof("[Clusterer] 开始聚类: %d 条消息, 目标 %d 个簇", len(messages), c.options.NumClusters)

	if len(messages) == 0 {
		return &Result{Clusters: []report.MessageCluster{}, Projection: &report.Projection{Points: []report.ProjectionPoint{}}}, nil
	}
	if len(messages) < c.options.MinClusterSize {
		logger.Infof("[Clusterer] 消息过少 (%d), 合并为单个簇", len(messages))
		return singleCluster(messages), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k := min(c.options.NumClusters, len(messages)/2)

	embeddings := make([][]float64, len(messages))
	for i, m := range messages {
		if len(m.Embedding) == 0 {
			return nil, fmt.Errorf("消息 %s 缺少向量", m.ID)
		}
		embeddings[i] = m.Embedding
	}

	logger.Debugf("[Clusterer] 执行降维...")
	reduced := Project(embeddings, c.options.UMAP)

	points := make([][]float64, len(reduced))
	for i, p := range reduced {
		points[i] = []float64{p[0], p[1]}
	}
	logger.Debugf("[Clusterer] 执行 k-means, k=%d", k)
	assignments := KMeans(points, k, c.options.MaxIterations, c.options.Seeds)

	// 簇按首次出现的顺序排列
	var order []int
	grouped := make(map[int][]report.CategorizedMessage)
	for i, m := range messages {
		id := assignments[i]
		if _, ok := grouped[id]; !ok {
			order = append(order, id)
		}
		grouped[id] = append(grouped[id], m)
	}

	clusters := make([]report.MessageCluster, 0, len(order))
	for _, id := range order {
		members := grouped[id]
		clusters = append(clusters, report.MessageCluster{
			ID:       fmt.Sprintf("cluster-%d", id),
			Topic:    fmt.Sprintf("Cluster %d", id+1),
			Messages: members,
			Opinions: []report.Opinion{},
			Summary: report.ClusterSummary{
				Consensus:   []string{},
				Conflicting: []string{},
				Sentiment:   ClusterSentiment(members),
			},
			NextSteps: []report.ActionItem{},
		})
	}
	clusters = nonEmpty(clusters)

	projection := &report.Projection{Points: make([]report.ProjectionPoint, len(messages))}
	for i, m := range messages {
		projection.Points[i] = report.ProjectionPoint{ID: m.ID, X: reduced[i][0], Y: reduced[i][1], ClusterID: assignments[i]}
	}

	sizes := make([]string, len(clusters))
	for i, cl := range clusters {
		sizes[i] = fmt.Sprintf("%s(%d)", cl.Topic, len(cl.Messages))
	}
	logger.Infof("[Clusterer] 完成: %d 个簇 [%s]", len(clusters), strings.Join(sizes, ", "))
	return &Result{Clusters: clusters, Projection: projection}, nil
}

// singleCluster 消息较少时不聚类，投影使用每行 10 个点的网格
func singleCluster(messages []report.CategorizedMessage) *Result {
	cluster := report.MessageCluster{
		ID:       "cluster-0",
		Topic:    "All Messages",
		Messages: messages,
		Opinions: []report.Opinion{},
		Summary: report.ClusterSummary{
			Consensus:   []string{},
			Conflicting: []string{},
			Sentiment:   ClusterSentiment(messages),
		},
		NextSteps: []report.ActionItem{},
	}

	projection := &report.Projection{Points: make([]report.ProjectionPoint, len(messages))}
	for i, m := range messages {
		projection.Points[i] = report.ProjectionPoint{ID: m.ID, X: float64(i % 10), Y: float64(i / 10)}
	}
	return &Result{Clusters: []report.MessageCluster{cluster}, Projection: projection}
}
