package report

// PointType 散点类型
type PointType string

const (
	PointMessage PointType = "message"
	PointTopic   PointType = "topic"
)

// PointMetadata 散点附加信息
type PointMetadata struct {
	Sentiment    string `json:"sentiment,omitempty"`
	Category     string `json:"category,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`
	TopicID      string `json:"topicId,omitempty"`
}

// ScatterPoint 散点图上的一个点
type ScatterPoint struct {
	ID       string        `json:"id"`
	Type     PointType     `json:"type"`
	X        float64       `json:"x"`
	Y        float64       `json:"y"`
	Label    string        `json:"label"`
	Size     float64       `json:"size,omitempty"`
	Color    string        `json:"color,omitempty"`
	Metadata PointMetadata `json:"metadata"`
}

// Axis 坐标轴
type Axis struct {
	Label string  `json:"label"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// ScatterAxes 散点图坐标轴
type ScatterAxes struct {
	X Axis `json:"x"`
	Y Axis `json:"y"`
}

// ScatterPlotData 散点图数据
type ScatterPlotData struct {
	Points []ScatterPoint `json:"points"`
	Axes   ScatterAxes    `json:"axes"`
}

// TreeNode 话题树节点
type TreeNode struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Type     string         `json:"type"`
	ParentID string         `json:"parentId,omitempty"`
	Value    int            `json:"value"`
	Metadata map[string]any `json:"metadata"`
}

// TreeLink 话题树连线
type TreeLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Weight int    `json:"weight,omitempty"`
}

// TopicTreeData 话题树
type TopicTreeData struct {
	Nodes []TreeNode `json:"nodes"`
	Links []TreeLink `json:"links"`
}

// ChartDatum 图表中的一项
type ChartDatum struct {
	Label    string         `json:"label"`
	Value    float64        `json:"value"`
	Color    string         `json:"color,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChartData 图表数据，Type 取值 bar / pie / line / area
type ChartData struct {
	Type string       `json:"type"`
	Data []ChartDatum `json:"data"`
}

// Charts 报告附带的图表
type Charts struct {
	Sentiment  *ChartData `json:"sentiment,omitempty"`
	Categories *ChartData `json:"categories,omitempty"`
	Topics     *ChartData `json:"topics,omitempty"`
	Timeline   *ChartData `json:"timeline,omitempty"`
}

// VisualizationData 可视化数据
type VisualizationData struct {
	ScatterPlot ScatterPlotData `json:"scatterPlot"`
	TopicTree   TopicTreeData   `json:"topicTree"`
	Charts      Charts          `json:"charts"`
}
