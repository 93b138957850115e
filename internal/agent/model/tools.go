package model

// WebHit is one web search result.
type WebHit struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Content    string `json:"content"`
	SourceType string `json:"source_type,omitempty"`
}

// CSVRequest is the input of the CSV export tool.
type CSVRequest struct {
	Filename string     `json:"filename" jsonschema:"file name stem without extension"`
	Headers  []string   `json:"headers" jsonschema:"column headers"`
	Rows     [][]string `json:"rows" jsonschema:"data rows, one cell per header"`
}

// ChartDataset is one data series of a chart.
type ChartDataset struct {
	Label string    `json:"label" jsonschema:"series label"`
	Data  []float64 `json:"data" jsonschema:"one value per label"`
}

// ChartRequest is the input of the chart tool.
type ChartRequest struct {
	ChartType string         `json:"chart_type,omitempty" jsonschema:"chart type such as bar, line or pie"`
	Labels    []string       `json:"labels" jsonschema:"x-axis labels"`
	Datasets  []ChartDataset `json:"datasets" jsonschema:"data series"`
	Title     string         `json:"title,omitempty" jsonschema:"chart title"`
}
