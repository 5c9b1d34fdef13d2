package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MCheckoutTransitions     MetricKey = "checkout_transitions_total"
	MReconciliationEvents    MetricKey = "reconciliation_events_total"
)

type MetricKind int

const (
	KindCounter MetricKind = iota
	KindHistogram
)

// MetricSpec describes one instrument: its help text and the label keys every observation must carry.
// Nil Buckets means the Prometheus defaults.
type MetricSpec struct {
	Key     MetricKey
	Kind    MetricKind
	Help    string
	Labels  []string
	Buckets []float64
}

// gatewayBuckets stretch past the defaults: a hosted payment can stay open for minutes.
var gatewayBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Catalog lists every instrument the service records. Providers register exactly these.
func Catalog() []MetricSpec {
	return []MetricSpec{
		{Key: MUsecaseRequests, Kind: KindCounter, Help: "Total number of use case invocations.", Labels: []string{"use_case", "outcome"}},
		{Key: MUsecaseDuration, Kind: KindHistogram, Help: "Duration of use case execution in seconds.", Labels: []string{"use_case"}, Buckets: gatewayBuckets},
		{Key: MHTTPRequests, Kind: KindCounter, Help: "Total number of HTTP requests served.", Labels: []string{"method", "route", "status"}},
		{Key: MHTTPRequestDuration, Kind: KindHistogram, Help: "HTTP request latency in seconds.", Labels: []string{"method", "route", "status"}},
		{Key: MExternalRequests, Kind: KindCounter, Help: "Calls made to external collaborators.", Labels: []string{"peer", "endpoint", "outcome"}},
		{Key: MExternalRequestDuration, Kind: KindHistogram, Help: "Latency of calls to external collaborators in seconds.", Labels: []string{"peer", "endpoint"}, Buckets: gatewayBuckets},
		{Key: MCheckoutTransitions, Kind: KindCounter, Help: "Checkout state machine transitions.", Labels: []string{"from", "to"}},
		{Key: MReconciliationEvents, Kind: KindCounter, Help: "Events that need operational follow-up.", Labels: []string{"event", "outcome"}},
	}
}
