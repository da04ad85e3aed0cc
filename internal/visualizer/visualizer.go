package visualizer

import (
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/fachebot/talk-insight/internal/logger"
	"github.com/fachebot/talk-insight/internal/report"
)

const (
	performanceTarget      = 500 * time.Millisecond
	maxPointsPerCluster    = 50
	maxLabelLength         = 50
	maxTreeLabelLength     = 30
	maxTreeMessages        = 10
	topicSizeNormalization = 100
)

// AxisType 散点图坐标轴的取值方式
type AxisType string

const (
	AxisSentiment AxisType = "sentiment"
	AxisTime      AxisType = "time"
	AxisPriority  AxisType = "priority"
	AxisCustom    AxisType = "custom"
)

// Options 可视化选项，零值为情感/优先级坐标且话题树不含消息节点
type Options struct {
	XAxis           AxisType
	YAxis           AxisType
	IncludeMessages bool
}

func (o Options) withDefaults() Options {
	if o.XAxis == "" {
		o.XAxis = AxisSentiment
	}
	if o.YAxis == "" {
		o.YAxis = AxisPriority
	}
	return o
}

var axisConfigs = map[AxisType]report.Axis{
	AxisSentiment: {Label: "Sentiment", Min: -1, Max: 1},
	AxisTime:      {Label: "Time", Min: 0, Max: 1},
	AxisPriority:  {Label: "Priority", Min: 0, Max: 1},
	AxisCustom:    {Label: "Custom", Min: 0, Max: 1},
}

func axisConfig(axis AxisType) report.Axis {
	if c, ok := axisConfigs[axis]; ok {
		return c
	}
	return axisConfigs[AxisSentiment]
}

var sentimentColors = map[report.Sentiment]string{
	report.SentimentPositive: "#4CAF50",
	report.SentimentNegative: "#F44336",
	report.SentimentNeutral:  "#9E9E9E",
	report.SentimentMixed:    "#FFC107",
}

var categoryColors = map[string]string{
	report.CategoryQuestion:    "#2196F3",
	report.CategoryRequest:     "#4ECDC4",
	report.CategoryFeedback:    "#95E1D3",
	report.CategoryComplaint:   "#FF6B6B",
	report.CategoryInformation: "#FFA07A",
	report.CategoryOther:       "#9E9E9E",
}

// Visualizer 生成散点图、话题树和统计图表
type Visualizer struct {
	mu       sync.Mutex
	rng      *rand.Rand
	location *time.Location
}

// New 创建 Visualizer，seed 决定散点抖动，location 决定时间线的月份划分
func New(seed uint64, location *time.Location) *Visualizer {
	if location == nil {
		location = time.UTC
	}
	return &Visualizer{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		location: location,
	}
}

// Generate 有投影坐标时复用投影，否则按 opts 指定的坐标轴生成语义坐标
func (v *Visualizer) Generate(clusters []report.MessageCluster, stats report.ReportStatistics, projection *report.Projection, opts Options) *report.VisualizationData {
	v.mu.Lock()
	defer v.mu.Unlock()

	opts = opts.withDefaults()
	start := time.Now()
	logger.Infof("[Visualizer] 为 %d 个簇生成可视化数据", len(clusters))

	var scatter report.ScatterPlotData
	if projection != nil && len(projection.Points) > 0 {
		scatter = v.scatterFromProjection(clusters, projection)
	} else {
		scatter = v.semanticScatter(clusters, stats.DateRange, opts)
	}

	data := &report.VisualizationData{
		ScatterPlot: scatter,
		TopicTree:   topicTree(clusters, opts.IncludeMessages),
		Charts: report.Charts{
			Sentiment:  sentimentChart(stats),
			Categories: categoryChart(stats),
			Topics:     topicChart(clusters),
			Timeline:   v.timelineChart(clusters),
		},
	}

	elapsed := time.Since(start)
	logger.Infof("[Visualizer] 生成 %d 个散点, %d 个树节点, 耗时 %dms",
		len(data.ScatterPlot.Points), len(data.TopicTree.Nodes), elapsed.Milliseconds())
	if elapsed > performanceTarget {
		logger.Warnf("[Visualizer] 生成耗时 %dms, 超过 %dms 目标", elapsed.Milliseconds(), performanceTarget.Milliseconds())
	}
	return data
}

func (v *Visualizer) scatterFromProjection(clusters []report.MessageCluster, projection *report.Projection) report.ScatterPlotData {
	coords := make(map[string]report.ProjectionPoint, len(projection.Points))
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, p := range projection.Points {
		coords[p.ID] = p
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	rangeX, rangeY := maxX-minX, maxY-minY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}

	points := make([]report.ScatterPoint, 0)
	for _, cluster := range clusters {
		var members []report.CategorizedMessage
		var sumX, sumY float64
		for _, m := range cluster.Messages {
			if p, ok := coords[m.ID]; ok {
				members = append(members, m)
				sumX += p.X
				sumY += p.Y
			}
		}
		if len(members) == 0 {
			continue
		}

		n := float64(len(members))
		points = append(points, topicPoint(cluster, (sumX/n-minX)/rangeX, (sumY/n-minY)/rangeY))
		for _, m := range members[:min(len(members), maxPointsPerCluster)] {
			if !m.IsSubstantive {
				continue
			}
			p := coords[m.ID]
			points = append(points, messagePoint(m, cluster.ID, (p.X-minX)/rangeX, (p.Y-minY)/rangeY))
		}
	}

	return report.ScatterPlotData{
		Points: points,
		Axes: report.ScatterAxes{
			X: report.Axis{Label: "UMAP Dimension 1", Min: 0, Max: 1},
			Y: report.Axis{Label: "UMAP Dimension 2", Min: 0, Max: 1},
		},
	}
}

func (v *Visualizer) semanticScatter(clusters []report.MessageCluster, dateRange report.DateRange, opts Options) report.ScatterPlotData {
	points := make([]report.ScatterPoint, 0)
	for _, cluster := range clusters {
		points = append(points, topicPoint(cluster,
			v.clusterCoordinate(cluster, opts.XAxis, dateRange),
			v.clusterCoordinate(cluster, opts.YAxis, dateRange)))

		for _, m := range cluster.Messages[:min(len(cluster.Messages), maxPointsPerCluster)] {
			if !m.IsSubstantive {
				continue
			}
			points = append(points, messagePoint(m, cluster.ID,
				v.messageCoordinate(m, opts.XAxis, dateRange),
				v.messageCoordinate(m, opts.YAxis, dateRange)))
		}
	}

	return report.ScatterPlotData{
		Points: points,
		Axes: report.ScatterAxes{
			X: axisConfig(opts.XAxis),
			Y: axisConfig(opts.YAxis),
		},
	}
}

func (v *Visualizer) clusterCoordinate(cluster report.MessageCluster, axis AxisType, dateRange report.DateRange) float64 {
	switch axis {
	case AxisSentiment:
		return v.sentimentScore(cluster.Summary.Sentiment)
	case AxisTime:
		if len(cluster.Messages) == 0 {
			return 0.5
		}
		var sum float64
		for _, m := range cluster.Messages {
			sum += float64(m.Timestamp.UnixMilli())
		}
		return timePosition(sum/float64(len(cluster.Messages)), dateRange)
	case AxisPriority:
		return v.clusterPriority(cluster)
	default:
		return v.rng.Float64()
	}
}

func (v *Visualizer) messageCoordinate(m report.CategorizedMessage, axis AxisType, dateRange report.DateRange) float64 {
	switch axis {
	case AxisSentiment:
		return v.sentimentScore(m.Sentiment)
	case AxisTime:
		return timePosition(float64(m.Timestamp.UnixMilli()), dateRange)
	case AxisPriority:
		return v.messagePriority(m)
	default:
		return v.rng.Float64()
	}
}

// timePosition 将毫秒时间戳映射到报告时间区间内的 [0,1]，区间为空时取中点
func timePosition(millis float64, dateRange report.DateRange) float64 {
	start := float64(dateRange.Start.UnixMilli())
	span := float64(dateRange.End.UnixMilli()) - start
	if span <= 0 {
		return 0.5
	}
	return math.Max(0, math.Min(1, (millis-start)/span))
}

func (v *Visualizer) jitter(width float64) float64 {
	return (v.rng.Float64() - 0.5) * width
}

func (v *Visualizer) sentimentScore(sentiment report.Sentiment) float64 {
	jitter := v.jitter(0.15)
	switch sentiment {
	case report.SentimentPositive:
		return 0.7 + jitter
	case report.SentimentNegative:
		return -0.7 + jitter
	case report.SentimentMixed:
		return 0.1 + jitter
	default:
		return jitter
	}
}

func (v *Visualizer) clusterPriority(cluster report.MessageCluster) float64 {
	jitter := v.jitter(0.1)
	has := func(p report.Priority) bool {
		for _, step := range cluster.NextSteps {
			if step.Priority == p {
				return true
			}
		}
		return false
	}
	switch {
	case has(report.PriorityHigh):
		return 0.85 + jitter
	case has(report.PriorityMedium):
		return 0.5 + jitter
	case has(report.PriorityLow):
		return 0.2 + jitter
	default:
		return 0.3 + jitter
	}
}

// messagePriority 用情感近似消息的紧急程度
func (v *Visualizer) messagePriority(m report.CategorizedMessage) float64 {
	jitter := v.jitter(0.1)
	switch m.Sentiment {
	case report.SentimentNegative:
		return 0.8 + jitter
	case report.SentimentPositive:
		return 0.3 + jitter
	default:
		return 0.5 + jitter
	}
}

func topicPoint(cluster report.MessageCluster, x, y float64) report.ScatterPoint {
	return report.ScatterPoint{
		ID:    cluster.ID,
		Type:  report.PointTopic,
		X:     x,
		Y:     y,
		Label: cluster.Topic,
		Size:  0.2 + math.Min(float64(len(cluster.Messages))/topicSizeNormalization, 1)*0.8,
		Color: sentimentColor(cluster.Summary.Sentiment),
		Metadata: report.PointMetadata{
			Sentiment:    string(cluster.Summary.Sentiment),
			MessageCount: len(cluster.Messages),
		},
	}
}

func messagePoint(m report.CategorizedMessage, clusterID string, x, y float64) report.ScatterPoint {
	sentiment := m.Sentiment
	if sentiment == "" {
		sentiment = report.SentimentNeutral
	}
	return report.ScatterPoint{
		ID:    m.ID,
		Type:  report.PointMessage,
		X:     x,
		Y:     y,
		Label: label(m.Content, maxLabelLength),
		Size:  0.3,
		Color: sentimentColor(sentiment),
		Metadata: report.PointMetadata{
			Sentiment: string(m.Sentiment),
			Category:  m.Category,
			TopicID:   clusterID,
		},
	}
}

func sentimentColor(sentiment report.Sentiment) string {
	if color, ok := sentimentColors[sentiment]; ok {
		return color
	}
	return sentimentColors[report.SentimentNeutral]
}

func label(content string, maxLength int) string {
	if utf8.RuneCountInString(content) <= maxLength {
		return content
	}
	return string([]rune(content)[:maxLength]) + "..."
}

func topicTree(clusters []report.MessageCluster, includeMessages bool) report.TopicTreeData {
	total := 0
	for _, c := range clusters {
		total += len(c.Messages)
	}

	nodes := []report.TreeNode{{
		ID:       "root",
		Label:    "All Topics",
		Type:     string(report.PointTopic),
		Value:    total,
		Metadata: map[string]any{"clusterCount": len(clusters)},
	}}
	links := make([]report.TreeLink, 0, len(clusters))
	for _, c := range clusters {
		nodes = append(nodes, report.TreeNode{
			ID:       c.ID,
			Label:    c.Topic,
			Type:     string(report.PointTopic),
			ParentID: "root",
			Value:    len(c.Messages),
			Metadata: map[string]any{
				"sentiment":    c.Summary.Sentiment,
				"opinionCount": len(c.Opinions),
				"description":  c.Description,
			},
		})
		links = append(links, report.TreeLink{Source: "root", Target: c.ID, Weight: len(c.Messages)})

		if !includeMessages {
			continue
		}
		added := 0
		for _, m := range c.Messages {
			if added == maxTreeMessages {
				break
			}
			if !m.IsSubstantive {
				continue
			}
			added++
			nodes = append(nodes, report.TreeNode{
				ID:       m.ID,
				Label:    label(m.Content, maxTreeLabelLength),
				Type:     string(report.PointMessage),
				ParentID: c.ID,
				Value:    1,
				Metadata: map[string]any{
					"sentiment": m.Sentiment,
					"category":  m.Category,
					"timestamp": m.Timestamp.UnixMilli(),
				},
			})
			links = append(links, report.TreeLink{Source: c.ID, Target: m.ID, Weight: 1})
		}
	}
	return report.TopicTreeData{Nodes: nodes, Links: links}
}

func sentimentChart(stats report.ReportStatistics) *report.ChartData {
	chart := &report.ChartData{Type: "pie", Data: []report.ChartDatum{}}
	for _, item := range []struct {
		label     string
		sentiment report.Sentiment
	}{
		{"Positive", report.SentimentPositive},
		{"Negative", report.SentimentNegative},
		{"Neutral", report.SentimentNeutral},
	} {
		value := stats.SentimentDistribution[string(item.sentiment)]
		if value > 0 {
			chart.Data = append(chart.Data, report.ChartDatum{
				Label: item.label,
				Value: float64(value),
				Color: sentimentColors[item.sentiment],
			})
		}
	}
	return chart
}

func categoryChart(stats report.ReportStatistics) *report.ChartData {
	chart := &report.ChartData{Type: "bar", Data: make([]report.ChartDatum, 0, len(stats.CategoryDistribution))}
	for category, value := range stats.CategoryDistribution {
		color, ok := categoryColors[strings.ToLower(category)]
		if !ok {
			color = categoryColors[report.CategoryOther]
		}
		chart.Data = append(chart.Data, report.ChartDatum{Label: capitalize(category), Value: float64(value), Color: color})
	}
	sort.Slice(chart.Data, func(i, j int) bool {
		if chart.Data[i].Value != chart.Data[j].Value {
			return chart.Data[i].Value > chart.Data[j].Value
		}
		return chart.Data[i].Label < chart.Data[j].Label
	})
	return chart
}

func topicChart(clusters []report.MessageCluster) *report.ChartData {
	chart := &report.ChartData{Type: "bar", Data: make([]report.ChartDatum, 0, len(clusters))}
	for _, c := range clusters {
		chart.Data = append(chart.Data, report.ChartDatum{
			Label: c.Topic,
			Value: float64(len(c.Messages)),
			Color: sentimentColor(c.Summary.Sentiment),
			Metadata: map[string]any{
				"topicId":   c.ID,
				"sentiment": c.Summary.Sentiment,
			},
		})
	}
	sort.SliceStable(chart.Data, func(i, j int) bool {
		return chart.Data[i].Value > chart.Data[j].Value
	})
	return chart
}

// timelineChart 按月统计有实质内容的消息数
func (v *Visualizer) timelineChart(clusters []report.MessageCluster) *report.ChartData {
	months := make(map[string]int)
	for _, c := range clusters {
		for _, m := range c.Messages {
			if !m.IsSubstantive {
				continue
			}
			months[m.Timestamp.In(v.location).Format("2006-01")]++
		}
	}

	chart := &report.ChartData{Type: "line", Data: make([]report.ChartDatum, 0, len(months))}
	for month, count := range months {
		chart.Data = append(chart.Data, report.ChartDatum{Label: month, Value: float64(count), Color: "#2196F3"})
	}
	sort.Slice(chart.Data, func(i, j int) bool {
		return chart.Data[i].Label < chart.Data[j].Label
	})
	return chart
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
