package visualizer

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fachebot/talk-insight/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClusters() []report.MessageCluster {
	msg := func(id string, ts time.Time, sentiment report.Sentiment, substantive bool) report.CategorizedMessage {
		return report.CategorizedMessage{
			ParsedMessage: report.ParsedMessage{ID: id, Content: "message " + id, Timestamp: ts},
			Category:      report.CategoryComplaint,
			Sentiment:     sentiment,
			IsSubstantive: substantive,
		}
	}
	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	return []report.MessageCluster{
		{
			ID:        "c0",
			Topic:     "Login",
			Messages:  []report.CategorizedMessage{msg("m0", jan, report.SentimentNegative, true), msg("m1", feb, report.SentimentNegative, true)},
			Opinions:  report.OpinionsFromStrings("c0", []string{"login fails"}),
			Summary:   report.ClusterSummary{Sentiment: report.SentimentNegative},
			NextSteps: []report.ActionItem{{Action: "fix", Priority: report.PriorityHigh}},
		},
		{
			ID:       "c1",
			Topic:    "Praise",
			Messages: []report.CategorizedMessage{msg("m2", feb, report.SentimentPositive, true), msg("m3", feb, report.SentimentPositive, false)},
			Summary:  report.ClusterSummary{Sentiment: report.SentimentPositive},
		},
	}
}

func testStats() report.ReportStatistics {
	return report.ReportStatistics{
		CategoryDistribution:  map[string]int{"complaint": 3, "question": 1, "custom": 1},
		SentimentDistribution: map[string]int{"positive": 1, "negative": 2, "neutral": 0},
	}
}

func TestGenerate_Projection(t *testing.T) {
	projection := &report.Projection{Points: []report.ProjectionPoint{
		{ID: "m0", X: 0, Y: 10},
		{ID: "m1", X: 2, Y: 20},
		{ID: "m2", X: 4, Y: 30, ClusterID: 1},
		{ID: "m3", X: 4, Y: 30, ClusterID: 1},
	}}

	data := New(1, nil).Generate(testClusters(), testStats(), projection, Options{})
	points := data.ScatterPlot.Points
	require.Len(t, points, 5)

	assert.Equal(t, report.PointTopic, points[0].Type)
	assert.InDelta(t, 0.25, points[0].X, 1e-9)
	assert.InDelta(t, 0.25, points[0].Y, 1e-9)
	assert.Equal(t, "m0", points[1].ID)
	assert.InDelta(t, 0.0, points[1].X, 1e-9)
	assert.Equal(t, "c0", points[1].Metadata.TopicID)
	assert.InDelta(t, 1.0, points[4].X, 1e-9)
	assert.Equal(t, "UMAP Dimension 1", data.ScatterPlot.Axes.X.Label)

	for _, p := range points {
		assert.NotEqual(t, "m3", p.ID, "non-substantive message plotted")
		assert.GreaterOrEqual(t, p.X, 0.0)
		assert.LessOrEqual(t, p.X, 1.0)
	}
}

func TestGenerate_SemanticAxes(t *testing.T) {
	data := New(7, nil).Generate(testClusters(), testStats(), nil, Options{})
	points := data.ScatterPlot.Points
	require.Len(t, points, 5)

	assert.Equal(t, "Sentiment", data.ScatterPlot.Axes.X.Label)
	assert.InDelta(t, -0.7, points[0].X, 0.075+1e-9)
	assert.InDelta(t, 0.85, points[0].Y, 0.05+1e-9)
	assert.Equal(t, "#F44336", points[0].Color)
	assert.InDelta(t, 0.2+0.02*0.8, points[0].Size, 1e-9)
	assert.InDelta(t, 0.7, points[3].X, 0.075+1e-9)
	assert.InDelta(t, 0.3, points[3].Y, 0.05+1e-9)

	again := New(7, nil).Generate(testClusters(), testStats(), nil, Options{})
	assert.Equal(t, points, again.ScatterPlot.Points)
}

func TestGenerate_TreeAndCharts(t *testing.T) {
	data := New(1, time.UTC).Generate(testClusters(), testStats(), nil, Options{})

	require.Len(t, data.TopicTree.Nodes, 3)
	assert.Equal(t, "root", data.TopicTree.Nodes[0].ID)
	assert.Equal(t, 4, data.TopicTree.Nodes[0].Value)
	assert.Equal(t, "root", data.TopicTree.Nodes[1].ParentID)
	assert.Equal(t, []report.TreeLink{{Source: "root", Target: "c0", Weight: 2}, {Source: "root", Target: "c1", Weight: 2}}, data.TopicTree.Links)

	sentiment := data.Charts.Sentiment
	require.NotNil(t, sentiment)
	assert.Equal(t, "pie", sentiment.Type)
	assert.Equal(t, []report.ChartDatum{
		{Label: "Positive", Value: 1, Color: "#4CAF50"},
		{Label: "Negative", Value: 2, Color: "#F44336"},
	}, sentiment.Data)

	categories := data.Charts.Categories.Data
	require.Len(t, categories, 3)
	assert.Equal(t, report.ChartDatum{Label: "Complaint", Value: 3, Color: "#FF6B6B"}, categories[0])
	assert.Equal(t, report.ChartDatum{Label: "Custom", Value: 1, Color: "#9E9E9E"}, categories[1])
	assert.Equal(t, "Question", categories[2].Label)

	assert.Equal(t, []report.ChartDatum{
		{Label: "2025-01", Value: 1, Color: "#2196F3"},
		{Label: "2025-02", Value: 2, Color: "#2196F3"},
	}, data.Charts.Timeline.Data)
	assert.Equal(t, "Login", data.Charts.Topics.Data[0].Label)
}

func TestGenerate_TimeAndCustomAxes(t *testing.T) {
	stats := testStats()
	stats.DateRange = report.DateRange{
		Start: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
	}

	opts := Options{XAxis: AxisTime, YAxis: AxisCustom}
	data := New(3, nil).Generate(testClusters(), stats, nil, opts)
	points := data.ScatterPlot.Points
	require.Len(t, points, 5)

	assert.Equal(t, report.Axis{Label: "Time", Min: 0, Max: 1}, data.ScatterPlot.Axes.X)
	assert.Equal(t, report.Axis{Label: "Custom", Min: 0, Max: 1}, data.ScatterPlot.Axes.Y)

	// c0 的消息分别位于区间两端，话题取平均时间
	assert.Equal(t, "c0", points[0].ID)
	assert.InDelta(t, 0.5, points[0].X, 1e-9)
	assert.InDelta(t, 0.0, points[1].X, 1e-9)
	assert.InDelta(t, 1.0, points[2].X, 1e-9)
	assert.Equal(t, "c1", points[3].ID)
	assert.InDelta(t, 1.0, points[3].X, 1e-9)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.Y, 0.0)
		assert.Less(t, p.Y, 1.0)
	}

	again := New(3, nil).Generate(testClusters(), stats, nil, opts)
	assert.Equal(t, points, again.ScatterPlot.Points)
	other := New(4, nil).Generate(testClusters(), stats, nil, opts)
	assert.NotEqual(t, points[0].Y, other.ScatterPlot.Points[0].Y)
}

func TestGenerate_TimeAxisEmptyRange(t *testing.T) {
	data := New(1, nil).Generate(testClusters(), testStats(), nil, Options{XAxis: AxisTime, YAxis: AxisSentiment})
	for _, p := range data.ScatterPlot.Points {
		assert.InDelta(t, 0.5, p.X, 1e-9)
	}
	assert.Equal(t, "Sentiment", data.ScatterPlot.Axes.Y.Label)
	assert.InDelta(t, -0.7, data.ScatterPlot.Points[0].Y, 0.075+1e-9)
}

func TestGenerate_TreeWithMessages(t *testing.T) {
	clusters := testClusters()
	for i := range 12 {
		clusters[0].Messages = append(clusters[0].Messages, report.CategorizedMessage{
			ParsedMessage: report.ParsedMessage{ID: fmt.Sprintf("extra-%d", i), Content: strings.Repeat("긴", 40)},
			IsSubstantive: true,
		})
	}

	data := New(1, nil).Generate(clusters, testStats(), nil, Options{IncludeMessages: true})
	nodes := data.TopicTree.Nodes

	var c0Leaves, c1Leaves []report.TreeNode
	for _, n := range nodes {
		switch n.ParentID {
		case "c0":
			c0Leaves = append(c0Leaves, n)
		case "c1":
			c1Leaves = append(c1Leaves, n)
		}
	}
	require.Len(t, c0Leaves, 10)
	assert.Equal(t, "m0", c0Leaves[0].ID)
	assert.Equal(t, string(report.PointMessage), c0Leaves[0].Type)
	assert.Equal(t, 1, c0Leaves[0].Value)
	assert.Equal(t, strings.Repeat("긴", 30)+"...", c0Leaves[2].Label)

	// 无实质内容的 m3 不出现在树中
	require.Len(t, c1Leaves, 1)
	assert.Equal(t, "m2", c1Leaves[0].ID)
	assert.Contains(t, data.TopicTree.Links, report.TreeLink{Source: "c1", Target: "m2", Weight: 1})
	assert.Len(t, data.TopicTree.Links, 2+10+1)

	plain := New(1, nil).Generate(clusters, testStats(), nil, Options{})
	assert.Len(t, plain.TopicTree.Nodes, 3)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "short", label("short", 50))
	long := strings.Repeat("가", 60)
	assert.Equal(t, strings.Repeat("가", 50)+"...", label(long, 50))
	assert.Equal(t, "Abc", capitalize("abc"))
}
