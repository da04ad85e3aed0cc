package renderer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/fachebot/talk-insight/internal/report"
)

const (
	maxSampleMessages = 3
	maxSampleLength   = 200
	dateLayout        = "2006-01-02"
)

// Options 渲染参数
type Options struct {
	Title           string
	Language        report.Language
	Timezone        string
	DefaultLanguage report.Language
	GeneratedAt     time.Time
}

func (o Options) resolve() (locale, *time.Location) {
	lang := ResolveLanguage(o.Language, o.Timezone, o.DefaultLanguage)
	location := time.UTC
	if o.Timezone != "" {
		if loc, err := time.LoadLocation(o.Timezone); err == nil {
			location = loc
		}
	}
	return locales[lang], location
}

type document struct {
	lines []string
}

func (d *document) add(format string, args ...any) {
	if len(args) == 0 {
		d.lines = append(d.lines, format)
		return
	}
	d.lines = append(d.lines, fmt.Sprintf(format, args...))
}

func (d *document) blank() {
	d.lines = append(d.lines, "")
}

func (d *document) String() string {
	return strings.Join(d.lines, "\n")
}

// Render 将报告渲染为 Markdown，相同输入得到相同输出
func Render(stats report.ReportStatistics, clusters []report.MessageCluster, synthesis *report.ReportSynthesis, opts Options) string {
	loc, location := opts.resolve()

	var doc document
	header(&doc, loc, location, opts)
	executiveSummary(&doc, loc, location, stats, synthesis)
	if synthesis != nil {
		keyFindings(&doc, loc, synthesis)
	}
	sentimentOverview(&doc, loc, stats)
	categoryDistribution(&doc, loc, stats)
	topTopics(&doc, loc, stats)
	topicAnalysis(&doc, loc, clusters)
	appendix(&doc, loc)
	return doc.String()
}

// RenderEmpty 没有可分析消息时的简短报告
func RenderEmpty(opts Options) string {
	loc, location := opts.resolve()

	var doc document
	header(&doc, loc, location, opts)
	doc.add("%s", loc.EmptyBody)
	return doc.String()
}

func header(doc *document, loc locale, location *time.Location, opts Options) {
	doc.add("# %s", opts.Title)
	doc.blank()
	doc.add("> %s: %s", loc.GeneratedAt, opts.GeneratedAt.In(location).Format("2006-01-02 15:04:05 MST"))
	doc.blank()
}

func executiveSummary(doc *document, loc locale, location *time.Location, stats report.ReportStatistics, synthesis *report.ReportSynthesis) {
	doc.add("## %s", loc.ExecutiveSummary)
	doc.blank()
	if synthesis != nil && synthesis.ExecutiveSummary != "" {
		doc.add("%s", synthesis.ExecutiveSummary)
		doc.blank()
	}

	if stats.WasSampled {
		doc.add("- **%s**: %d (%s)", loc.TotalMessages, stats.TotalMessages, fmt.Sprintf(loc.SampledFrom, stats.TotalMessagesBeforeSampling))
	} else {
		doc.add("- **%s**: %d", loc.TotalMessages, stats.TotalMessages)
	}
	doc.add("- **%s**: %d", loc.TotalThreads, stats.TotalThreads)
	doc.add("- **%s**: %.1f", loc.AveragePerThread, stats.AverageMessagesPerThread)
	doc.add("- **%s**: %s", loc.AnalysisPeriod, formatDateRange(stats.DateRange, location))

	var notes []string
	if stats.WasSampled {
		notes = append(notes, fmt.Sprintf(loc.SampledNote, stats.TotalMessagesBeforeSampling))
	}
	if stats.NonSubstantiveCount > 0 {
		notes = append(notes, fmt.Sprintf(loc.ExcludedNote, stats.NonSubstantiveCount))
	}
	if len(notes) > 0 {
		doc.blank()
		doc.add("> **%s**: %s.", loc.Note, strings.Join(notes, ". "))
	}
	doc.blank()
}

func keyFindings(doc *document, loc locale, synthesis *report.ReportSynthesis) {
	if len(synthesis.KeyFindings) > 0 {
		doc.add("## %s", loc.KeyFindings)
		doc.blank()
		for _, finding := range synthesis.KeyFindings {
			doc.add("- %s", finding)
		}
		doc.blank()
	}

	if len(synthesis.TopPriorities) > 0 {
		doc.add("## %s", loc.TopPriorities)
		doc.blank()
		for i, item := range synthesis.TopPriorities {
			doc.add("%d. %s", i+1, actionItem(loc, item))
		}
		doc.blank()
	}
}

func sentimentOverview(doc *document, loc locale, stats report.ReportStatistics) {
	doc.add("## %s", loc.SentimentOverview)
	doc.blank()

	total := 0
	for _, count := range stats.SentimentDistribution {
		total += count
	}
	if total > 0 {
		for _, sentiment := range sentimentOrder(stats.SentimentDistribution) {
			count := stats.SentimentDistribution[sentiment]
			symbol := "~"
			switch sentiment {
			case string(report.SentimentPositive):
				symbol = "+"
			case string(report.SentimentNegative):
				symbol = "-"
			}
			doc.add("- %s **%s**: %d (%.1f%%)", symbol, translate(loc.Sentiments, sentiment), count, percent(count, total))
		}
	}
	doc.blank()
}

func sentimentOrder(distribution map[string]int) []string {
	order := []string{string(report.SentimentPositive), string(report.SentimentNegative), string(report.SentimentNeutral)}
	var extra []string
	for key := range distribution {
		switch key {
		case order[0], order[1], order[2]:
		default:
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)

	var keys []string
	for _, key := range append(order, extra...) {
		if _, ok := distribution[key]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

func categoryDistribution(doc *document, loc locale, stats report.ReportStatistics) {
	doc.add("## %s", loc.CategoryTitle)
	doc.blank()
	doc.add("%s", loc.CategoryHeader)
	doc.add("|----------|-------|------------|")

	categories := make([]string, 0, len(stats.CategoryDistribution))
	for category := range stats.CategoryDistribution {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		ci, cj := stats.CategoryDistribution[categories[i]], stats.CategoryDistribution[categories[j]]
		if ci != cj {
			return ci > cj
		}
		return categories[i] < categories[j]
	})
	for _, category := range categories {
		count := stats.CategoryDistribution[category]
		doc.add("| %s | %d | %.1f%% |", translate(loc.Categories, category), count, percent(count, stats.TotalMessages))
	}
	doc.blank()
}

func topTopics(doc *document, loc locale, stats report.ReportStatistics) {
	doc.add("## %s", loc.TopTopics)
	doc.blank()
	if len(stats.TopTopics) == 0 {
		doc.add("%s", loc.NoTopics)
	}
	for i, topic := range stats.TopTopics {
		doc.add(loc.TopicLine, i+1, topic.Topic, topic.Count, strconv.FormatFloat(topic.Percentage, 'f', -1, 64))
	}
	doc.blank()
}

func topicAnalysis(doc *document, loc locale, clusters []report.MessageCluster) {
	doc.add("## %s", loc.TopicAnalysis)
	doc.blank()

	for _, cluster := range clusters {
		doc.add("### %s", cluster.Topic)
		doc.blank()
		if cluster.Description != "" {
			doc.add("%s", cluster.Description)
			doc.blank()
		}
		doc.add(loc.MessageCount, len(cluster.Messages))
		if cluster.Summary.Sentiment != "" {
			doc.blank()
			doc.add("**%s**: %s", loc.Sentiment, translate(loc.Sentiments, string(cluster.Summary.Sentiment)))
		}
		doc.blank()

		if len(cluster.Opinions) > 0 {
			doc.add("**%s:**", loc.KeyOpinions)
			doc.blank()
			for _, opinion := range cluster.Opinions {
				line := "- " + opinion.Text
				if opinion.MentionCount > 0 {
					line += " (" + fmt.Sprintf(loc.Mentions, opinion.MentionCount) + ")"
				}
				doc.add("%s", line)
				if opinion.RepresentativeQuote != "" {
					doc.add("  > %s", oneLine(opinion.RepresentativeQuote))
				}
			}
			doc.blank()
		}

		bulletSection(doc, loc.Consensus, cluster.Summary.Consensus)
		bulletSection(doc, loc.Conflicting, cluster.Summary.Conflicting)

		if len(cluster.NextSteps) > 0 {
			doc.add("**%s:**", loc.NextSteps)
			doc.blank()
			for _, step := range cluster.NextSteps {
				doc.add("- %s", actionItem(loc, step))
			}
			doc.blank()
		}

		samples := cluster.Messages[:min(len(cluster.Messages), maxSampleMessages)]
		if len(samples) > 0 {
			doc.add("**%s:**", loc.SampleMessages)
			doc.blank()
			for _, msg := range samples {
				doc.add("> %s", oneLine(cut(msg.Content, maxSampleLength)))
				doc.blank()
			}
		}
		doc.add("---")
		doc.blank()
	}
}

func bulletSection(doc *document, title string, items []string) {
	if len(items) == 0 {
		return
	}
	doc.add("**%s:**", title)
	doc.blank()
	for _, item := range items {
		doc.add("- %s", item)
	}
	doc.blank()
}

func appendix(doc *document, loc locale) {
	doc.add("## %s", loc.Appendix)
	doc.blank()
	doc.add("### %s", loc.Methodology)
	doc.blank()
	doc.add("%s", loc.MethodologyIntro)
	for i, step := range loc.MethodologySteps {
		doc.add("%d. %s", i+1, step)
	}
	doc.blank()
}

func actionItem(loc locale, item report.ActionItem) string {
	priority := item.Priority
	if priority == "" {
		priority = report.PriorityMedium
	}
	line := fmt.Sprintf("**[%s]** %s", translate(loc.Priorities, priority), item.Action)
	if item.Rationale != "" {
		line += " - " + item.Rationale
	}
	return line
}

func translate[K ~string](table map[K]string, key K) string {
	if text, ok := table[key]; ok {
		return text
	}
	return capitalize(string(key))
}

func formatDateRange(r report.DateRange, location *time.Location) string {
	start := r.Start.In(location).Format(dateLayout)
	end := r.End.In(location).Format(dateLayout)
	if start == end {
		return start
	}
	return start + " ~ " + end
}

func percent(count, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(count) / float64(total) * 100
}

func cut(content string, maxLength int) string {
	if utf8.RuneCountInString(content) <= maxLength {
		return content
	}
	return string([]rune(content)[:maxLength]) + "..."
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
