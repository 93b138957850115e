package tools

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/agri-rag/server/internal/agent/model"
)

const DefaultChartBaseURL = "https://quickchart.io/chart"

// ChartURL encodes req as a Chart.js config in a QuickChart URL.
func ChartURL(baseURL string, req model.ChartRequest) (string, error) {
	if len(req.Labels) == 0 {
		return "", fmt.Errorf("labels are required")
	}
	if len(req.Datasets) == 0 {
		return "", fmt.Errorf("at least one dataset is required")
	}
	chartType := strings.ToLower(strings.TrimSpace(req.ChartType))
	if chartType == "" {
		chartType = "bar"
	}
	if baseURL == "" {
		baseURL = DefaultChartBaseURL
	}

	type dataset struct {
		Label string    `json:"label"`
		Data  []float64 `json:"data"`
	}
	datasets := make([]dataset, 0, len(req.Datasets))
	for _, d := range req.Datasets {
		datasets = append(datasets, dataset{Label: d.Label, Data: d.Data})
	}
	config := map[string]any{
		"type": chartType,
		"data": map[string]any{
			"labels":   req.Labels,
			"datasets": datasets,
		},
		"options": map[string]any{
			"title": map[string]any{"display": true, "text": req.Title},
		},
	}
	b, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("marshal chart config: %w", err)
	}
	return baseURL + "?c=" + url.QueryEscape(string(b)), nil
}
