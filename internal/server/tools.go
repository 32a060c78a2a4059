package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "price_chart",
			Description: "Render a candlestick price chart with volume for a cryptocurrency and return the URL of the finished PNG. The chart covers the requested number of days at daily or hourly granularity.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"symbol": map[string]interface{}{
						"type":        "string",
						"description": "Cryptocurrency symbol, slug, or name (e.g. 'BTC', 'bitcoin')",
					},
					"interval": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"daily", "hourly"},
						"description": "Candle granularity. Default 'daily'.",
						"default":     "daily",
					},
					"days": map[string]interface{}{
						"type":        "integer",
						"description": "Number of days of history to chart (1-365). Default 30.",
						"default":     30,
					},
					"theme": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"light", "dark"},
						"description": "Chart color theme. Default 'light'.",
						"default":     "light",
					},
					"size": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"small", "medium", "large"},
						"description": "Output image size. Default 'medium'.",
						"default":     "medium",
					},
					"overlay_icon": map[string]interface{}{
						"type":        "boolean",
						"description": "Whether to draw the asset's icon in the chart corner. Default true.",
						"default":     true,
					},
				},
				"required": []string{"symbol"},
			},
		},
		{
			Name:        "trending_heatmap",
			Description: "Render a treemap heatmap of the currently trending cryptocurrencies, tile size driven by 24h volume change and tile color by 24h price change, and return the URL of the finished PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "How many trending assets to include (2-50). Default 20.",
						"default":     20,
					},
					"theme": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"light", "dark"},
						"description": "Chart color theme. Default 'dark'.",
						"default":     "dark",
					},
				},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
