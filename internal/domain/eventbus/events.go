package eventbus

import "chartlens-server-go/internal/domain/verdict"

// Topics published by the chart check service.
const (
	EventChartVerdict = "chart:verdict"
	EventChartBatch   = "chart:batch"
	EventSystemError  = "system:error"
)

// VerdictEventData accompanies EventChartVerdict. Cached is set when the
// verdict was served from the digest cache instead of a fresh scan.
type VerdictEventData struct {
	Verdict verdict.Verdict `json:"verdict"`
	Cached  bool            `json:"cached"`
}

// BatchEventData accompanies EventChartBatch once every item has finished.
type BatchEventData struct {
	BatchID  string `json:"batch_id"`
	Total    int    `json:"total"`
	Accepted int    `json:"accepted"`
	Failed   int    `json:"failed"`
}

type SystemEventData struct {
	Level   string      `json:"level"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
