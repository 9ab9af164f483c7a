package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New("test")
	router := chi.NewRouter()
	router.Use(m.Middleware)
	router.Get("/orders/{orderID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"ord-1", "ord-2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/orders/{orderID}", "404")); got != 2 {
		t.Fatalf("expected 2 requests for route pattern, got %v", got)
	}
}

func TestDomainCountersAreExposed(t *testing.T) {
	m := New("")
	m.OrderCreated()
	m.StockConflict("deduct")
	m.DiscountRejected("expired")
	m.DiscountApplied()
	m.CancellationOutcome("approved")
	m.StatusTransition("shipped")
	m.RecordVerification(context.Background(), "oidc", false, "audience_mismatch", 0)

	if got := testutil.ToFloat64(m.ordersCreated); got != 1 {
		t.Fatalf("expected orders created 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.discountRejections.WithLabelValues("expired")); got != 1 {
		t.Fatalf("expected expired rejection 1, got %v", got)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		"fulfillment_orders_created_total 1",
		`fulfillment_stock_conflicts_total{stage="deduct"} 1`,
		`fulfillment_auth_verifications_total{kind="oidc",reason="audience_mismatch",result="failure"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected exposition to contain %q", want)
		}
	}
}
