package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/AngelCh415/ad-performance-scorer/internal/models"
)

var baseColumns = []string{
	"run_id", "region", "ad_id", "ad_name", "campaign_name", "segment",
	"spend", "spend_share", "overall_score", "rating", "coverage",
	"underperforming", "relative_index",
}

// Header lists the CSV columns: the base columns, then a value and a score column
// per metric.
func Header() []string {
	h := append([]string(nil), baseColumns...)
	for _, m := range models.AllMetrics {
		h = append(h, string(m)+"_value", string(m)+"_score")
	}
	return h
}

// WriteCSV writes one row per ad followed by one row per scored segment.
// Unavailable numbers are left empty.
func WriteCSV(w io.Writer, reports []models.AdReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, r := range reports {
		row := []string{
			r.RunID, r.Region, r.AdID, r.AdName, r.CampaignName, "",
			r.Spend.StringFixed(2), "", cell(r.Score.Overall), string(r.Score.Rating),
			formatFloat(r.Score.Coverage), "", "",
		}
		if err := cw.Write(append(row, metricCells(r.Score)...)); err != nil {
			return err
		}
		for _, k := range r.Score.SegmentKeys() {
			seg := r.Score.Segments[k]
			row := []string{
				r.RunID, r.Region, r.AdID, r.AdName, r.CampaignName, k.String(),
				"", cell(seg.SpendShare), cell(seg.Score.Overall), string(seg.Score.Rating),
				formatFloat(seg.Score.Coverage), strconv.FormatBool(seg.Underperforming), cell(seg.RelativeIndex),
			}
			if err := cw.Write(append(row, metricCells(seg.Score)...)); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func metricCells(p models.PerformanceScore) []string {
	byMetric := make(map[models.Metric]models.MetricScore, len(p.Metrics))
	for _, ms := range p.Metrics {
		byMetric[ms.Metric] = ms
	}
	out := make([]string, 0, 2*len(models.AllMetrics))
	for _, m := range models.AllMetrics {
		ms := byMetric[m]
		out = append(out, cell(ms.Value), cell(ms.Score))
	}
	return out
}

func cell(o models.Optional) string {
	v, ok := o.Get()
	if !ok {
		return ""
	}
	return formatFloat(v)
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
