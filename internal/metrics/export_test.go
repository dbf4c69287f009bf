package metrics

import "github.com/prometheus/client_golang/prometheus/testutil"

// HTTPRequests reads the request counter for one method and status code.
func HTTPRequests(method, code string) float64 {
	Init()
	return testutil.ToFloat64(httpRequestsTotal.WithLabelValues(method, code))
}
