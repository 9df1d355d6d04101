package server

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

// observeRequest records count, latency and errors of a handled request
func observeRequest(msgType common.MessageType, resp *common.Message, took time.Duration) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`rkv_server_requests_total{type=%q}`, msgType)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`rkv_server_request_duration_seconds{type=%q}`, msgType)).Update(took.Seconds())
	if err := resp.Error(); err != nil {
		metrics.GetOrCreateCounter(fmt.Sprintf(`rkv_server_errors_total{type=%q,code="%d"}`, msgType, err.Code)).Inc()
	}
}
