package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/agri-rag/server/internal/agent/model"
)

// Names of the export tools.
const (
	ToolGenerateCSV = "generate_csv"
	ToolCreateChart = "create_chart"
)

const (
	csvToolDesc   = "Write a table to a CSV file. Returns the path of the created file."
	chartToolDesc = "Render a chart with QuickChart. Returns the chart image URL."
)

// ===================================
// In-process export tools
// ===================================

// NewLocalTools returns the CSV and chart tools as in-process Eino tools.
func NewLocalTools(cfg model.ToolsConfig) []tool.InvokableTool {
	return []tool.InvokableTool{
		createCSVTool(NewCSVWriter(cfg.CSVOutputDir)),
		createChartTool(cfg.ChartBaseURL),
	}
}

func createCSVTool(w *CSVWriter) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolGenerateCSV,
			Desc: csvToolDesc,
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"filename": {
					Type:     schema.String,
					Desc:     "File name stem without extension, e.g. paddy_planted_area",
					Required: true,
				},
				"headers": {
					Type:     schema.Array,
					Desc:     "Column headers",
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Required: true,
				},
				"rows": {
					Type: schema.Array,
					Desc: "Data rows, one cell per header",
					ElemInfo: &schema.ParameterInfo{
						Type:     schema.Array,
						ElemInfo: &schema.ParameterInfo{Type: schema.String},
					},
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *model.CSVRequest) (string, error) {
			if in == nil {
				return "", fmt.Errorf("csv request is required")
			}
			return w.Write(*in)
		},
	)
}

func createChartTool(baseURL string) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCreateChart,
			Desc: chartToolDesc,
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"chart_type": {
					Type: schema.String,
					Desc: "Chart type",
					Enum: []string{"bar", "line", "pie", "doughnut", "radar"},
				},
				"labels": {
					Type:     schema.Array,
					Desc:     "X-axis labels",
					ElemInfo: &schema.ParameterInfo{Type: schema.String},
					Required: true,
				},
				"datasets": {
					Type: schema.Array,
					Desc: "Data series",
					ElemInfo: &schema.ParameterInfo{
						Type: schema.Object,
						SubParams: map[string]*schema.ParameterInfo{
							"label": {Type: schema.String, Desc: "Series label", Required: true},
							"data": {
								Type:     schema.Array,
								Desc:     "One value per label",
								ElemInfo: &schema.ParameterInfo{Type: schema.Number},
								Required: true,
							},
						},
					},
					Required: true,
				},
				"title": {
					Type: schema.String,
					Desc: "Chart title",
				},
			}),
		},
		func(ctx context.Context, in *model.ChartRequest) (string, error) {
			if in == nil {
				return "", fmt.Errorf("chart request is required")
			}
			return ChartURL(baseURL, *in)
		},
	)
}
