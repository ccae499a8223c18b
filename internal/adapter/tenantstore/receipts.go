package tenantstore

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

// SalesReceiptPDF pulls the receipt PDF for a work order off the tenant's
// dealer API. The fetch is best effort: tenants without an api_base_url and
// any HTTP level failure yield no bytes and no error, so the email still
// goes out without the attachment.
func (g *Gateway) SalesReceiptPDF(ctx domain.Context, tenantID, workOrderNumber string) ([]byte, error) {
	cfg, err := g.configs.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("op=tenantdata.receipt_pdf: %w", err)
	}
	if cfg.APIBaseURL == "" || workOrderNumber == "" {
		return nil, nil
	}

	url := strings.TrimRight(cfg.APIBaseURL, "/") + "/api/Invoice/" + workOrderNumber + "/pdf"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("op=tenantdata.receipt_pdf: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		slog.Warn("sales receipt fetch failed", "tenant_id", tenantID, "work_order_number", workOrderNumber, "error", err)
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		content, err := io.ReadAll(resp.Body)
		if err != nil {
			slog.Warn("sales receipt read failed", "tenant_id", tenantID, "work_order_number", workOrderNumber, "error", err)
			return nil, nil
		}
		if ct := resp.Header.Get("Content-Type"); !strings.Contains(strings.ToLower(ct), "pdf") && len(content) > 0 {
			slog.Warn("receipt endpoint returned unexpected content type",
				"tenant_id", tenantID, "work_order_number", workOrderNumber, "content_type", ct)
		}
		return content, nil
	case resp.StatusCode == http.StatusNotFound:
		slog.Warn("sales receipt pdf not found", "tenant_id", tenantID, "work_order_number", workOrderNumber)
		return nil, nil
	default:
		slog.Error("sales receipt fetch rejected",
			"tenant_id", tenantID, "work_order_number", workOrderNumber, "status", resp.StatusCode)
		return nil, nil
	}
}
