package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HTTPPaymentGateway asks the payment provider how much was actually paid
type HTTPPaymentGateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPPaymentGateway creates a gateway client for baseURL
func NewHTTPPaymentGateway(baseURL string, timeout time.Duration) *HTTPPaymentGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPaymentGateway{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
	}
}

// GetPaidInfo fetches the paid amount of the provider payment (mid, tid)
func (g *HTTPPaymentGateway) GetPaidInfo(ctx context.Context, mid, tid string) (*models.PaidInfo, error) {
	ctx, span := util.GetTracer().Start(ctx, "PaymentGateway.GetPaidInfo", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	endpoint := fmt.Sprintf("%s/payments/%s/%s", g.baseURL, url.PathEscape(mid), url.PathEscape(tid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("%w: build request: %v", models.ErrGateway, err)
	}

	span.SetAttributes(
		attribute.String("http.url", endpoint),
		attribute.String("http.method", http.MethodGet),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("%w: %v", models.ErrGateway, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: provider returned status %s", models.ErrGateway, resp.Status)
		util.RecordSpanError(span, err)
		return nil, err
	}

	var info models.PaidInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("%w: decode response: %v", models.ErrGateway, err)
	}
	return &info, nil
}
