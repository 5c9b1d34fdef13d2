package httppresentation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/application/checkout"
	appinv "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	apppay "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/application/pricing"
	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	obsinfra "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLinks map[string]string

func (l staticLinks) PaymentURL(sessionID string) (string, bool) {
	u, ok := l[sessionID]
	return u, ok
}

type apiHarness struct {
	server *httptest.Server
	stock  *memory.InventoryRepository
	orders *memory.OrderRepository
}

func newAPI(t *testing.T, widgetDelay, settle time.Duration) *apiHarness {
	t.Helper()
	reg := prometheus.NewRegistry()
	tel := obsinfra.NewPrometheus(nil, nil, reg)

	stock := memory.NewInventoryRepository()
	require.NoError(t, stock.Seed("shirt", 10))
	require.NoError(t, stock.Seed("mug", 10))
	orders := memory.NewOrderRepository()
	carts := memory.NewCartStore()
	provider := appcheckout.CartProviderFunc(func(sessionID string) domcheckout.CartStore { return carts.For(sessionID) })

	fees, err := pricing.NewFeeTable(map[string]int64{"lagos": 2000}, 3500)
	require.NoError(t, err)
	ids := id.NewUUIDGenerator()
	widget := memory.NewWidget(widgetDelay)

	svc, err := appcheckout.NewService(appcheckout.ServiceConfig{
		Deps: appcheckout.Deps{
			Pricer:   pricing.NewCalculator(fees),
			Stock:    appinv.NewValidateStockUseCase(stock, tel),
			Gateway:  apppay.NewGatewayAdapter(widget, apppay.GatewayConfig{PublicKey: "pk_test", Currency: "NGN"}, ids, tel),
			Recorder: apporder.NewRecordOrderUseCase(orders, ids, nil, nil, tel),
			Adjuster: appinv.NewAdjustInventoryUseCase(stock, nil, tel, appinv.AdjustOptions{}),
			IDs:      ids,
		},
		Carts:     provider,
		Directory: orders,
	}, tel)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	h := NewHandler(Config{
		Checkout:   svc,
		Carts:      provider,
		Links:      staticLinks{"s-link": "https://pay.test/cs_1"},
		Cancels:    widget,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		SettleWait: settle,
	}, nil, tel)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &apiHarness{server: srv, stock: stock, orders: orders}
}

func (a *apiHarness) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, a.server.URL+path, &buf)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	out := map[string]any{}
	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	}
	return res, out
}

var cart = map[string]any{"lines": []map[string]any{
	{"id": "shirt", "name": "Shirt", "unit_price": 5000, "quantity": 2},
	{"id": "mug", "name": "Mug", "unit_price": 3000, "quantity": 1},
}}

var customer = map[string]any{
	"name": "Ada Obi", "email": "ada@example.com", "phone": "08012345678",
	"address": "12 Marina", "region": "Lagos", "subregion": "Ikeja",
}

func TestSubmitCompletesCheckout(t *testing.T) {
	api := newAPI(t, time.Millisecond, 2*time.Second)

	res, _ := api.do(t, http.MethodPut, "/checkout/s-1/cart", cart)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, body := api.do(t, http.MethodPost, "/checkout/s-1/submit", customer)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get(headerRequestID))
	assert.Equal(t, string(domcheckout.StateCompleted), body["state"])
	assert.Equal(t, true, body["account_created"])
	assert.Equal(t, 15000.0, body["totals"].(map[string]any)["grand_total"])
	assert.Equal(t, 1, api.orders.Count())

	res, body = api.do(t, http.MethodGet, "/checkout/s-1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, string(domcheckout.StateCompleted), body["state"])

	res, body = api.do(t, http.MethodGet, "/checkout/s-2/autofill?email=ADA@example.com", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, "Ikeja", body["customer"].(map[string]any)["subregion"])
}

func TestSubmitValidationFailure(t *testing.T) {
	api := newAPI(t, time.Millisecond, 2*time.Second)
	api.do(t, http.MethodPut, "/checkout/s-1/cart", cart)

	bad := map[string]any{"name": "Ada", "email": "not-an-email", "region": "Lagos"}
	res, body := api.do(t, http.MethodPost, "/checkout/s-1/submit", bad)

	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	view := body["checkout"].(map[string]any)
	assert.Equal(t, string(domcheckout.StateValidationFailed), view["state"])
	assert.NotEmpty(t, view["field_errors"])
}

func TestSubmitEmptyCart(t *testing.T) {
	api := newAPI(t, time.Millisecond, 2*time.Second)

	res, _ := api.do(t, http.MethodPost, "/checkout/s-1/submit", customer)

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestStockFailureIsConflict(t *testing.T) {
	api := newAPI(t, time.Millisecond, 2*time.Second)
	require.NoError(t, api.stock.Seed("mug", 0))
	api.do(t, http.MethodPut, "/checkout/s-1/cart", cart)

	res, body := api.do(t, http.MethodPost, "/checkout/s-1/submit", customer)

	require.Equal(t, http.StatusConflict, res.StatusCode)
	view := body["checkout"].(map[string]any)
	assert.Equal(t, string(domcheckout.StateStockFailed), view["state"])
	assert.Equal(t, 0, api.orders.Count())
}

func TestSlowGatewayAnswersAccepted(t *testing.T) {
	api := newAPI(t, 300*time.Millisecond, 10*time.Millisecond)
	api.do(t, http.MethodPut, "/checkout/s-1/cart", cart)

	res, body := api.do(t, http.MethodPost, "/checkout/s-1/submit", customer)
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.NotEqual(t, string(domcheckout.StateCompleted), body["state"])

	res, _ = api.do(t, http.MethodPost, "/checkout/s-1/submit", customer)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	assert.Eventually(t, func() bool {
		_, body := api.do(t, http.MethodGet, "/checkout/s-1", nil)
		return body["state"] == string(domcheckout.StateCompleted)
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPayBeforeSubmitIsRejected(t *testing.T) {
	api := newAPI(t, time.Millisecond, 2*time.Second)

	res, _ := api.do(t, http.MethodPost, "/checkout/s-1/pay", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	api.do(t, http.MethodPut, "/checkout/s-1/cart", cart)
	api.do(t, http.MethodPost, "/checkout/s-1/submit", customer)
	res, _ = api.do(t, http.MethodPost, "/checkout/s-1/pay", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, _ = api.do(t, http.MethodPost, "/checkout/s-1/recording/retry", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestCancelPaymentReturnsToAwaitingPayment(t *testing.T) {
	api := newAPI(t, time.Minute, 10*time.Millisecond)

	res, _ := api.do(t, http.MethodPost, "/checkout/s-1/payment/cancel", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	api.do(t, http.MethodPut, "/checkout/s-1/cart", cart)
	res, _ = api.do(t, http.MethodPost, "/checkout/s-1/submit", customer)
	require.Equal(t, http.StatusAccepted, res.StatusCode)

	require.Eventually(t, func() bool {
		res, _ := api.do(t, http.MethodGet, "/checkout/s-1/payment/cancel", nil)
		return res.StatusCode == http.StatusAccepted
	}, 2*time.Second, 10*time.Millisecond)

	var body map[string]any
	assert.Eventually(t, func() bool {
		_, body = api.do(t, http.MethodGet, "/checkout/s-1", nil)
		return body["state"] == string(domcheckout.StateAwaitingPayment)
	}, 2*time.Second, 10*time.Millisecond)
	banner := body["banner"].(map[string]any)
	assert.Equal(t, string(domcheckout.BannerRetry), banner["kind"])
	assert.Equal(t, 0, api.orders.Count())

	res, _ = api.do(t, http.MethodPost, "/checkout/s-1/payment/cancel", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestQuote(t *testing.T) {
	api := newAPI(t, time.Millisecond, time.Second)

	res, body := api.do(t, http.MethodPost, "/checkout/quote", map[string]any{
		"lines":  cart["lines"],
		"region": "Abuja",
	})

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 13000.0, body["subtotal"])
	assert.Equal(t, 3500.0, body["delivery_fee"])
	assert.Equal(t, 16500.0, body["grand_total"])

	res, _ = api.do(t, http.MethodPost, "/checkout/quote", map[string]any{"lines": []map[string]any{{"id": "x", "quantity": 0}}})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = api.do(t, http.MethodPost, "/checkout/quote", map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestPaymentLinkAndHealth(t *testing.T) {
	api := newAPI(t, time.Millisecond, time.Second)

	res, body := api.do(t, http.MethodGet, "/checkout/s-link/payment-link", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "https://pay.test/cs_1", body["url"])

	res, _ = api.do(t, http.MethodGet, "/checkout/s-none/payment-link", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestMetricsUseRouteTemplate(t *testing.T) {
	api := newAPI(t, time.Millisecond, time.Second)
	api.do(t, http.MethodGet, "/checkout/abc", nil)
	api.do(t, http.MethodGet, "/checkout/def", nil)

	res, err := http.Get(api.server.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(res.Body)
	require.NoError(t, err)

	text := buf.String()
	assert.Contains(t, text, string(observability.MHTTPRequests))
	assert.Contains(t, text, `route="GET /checkout/{session}",status="404"} 2`)
	assert.NotContains(t, text, "/checkout/abc")
}
