package tenantstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenchworks/dealercomm/internal/domain"
)

func TestGateway_SalesReceiptPDF(t *testing.T) {
	t.Run("fetches the receipt pdf", func(t *testing.T) {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4 receipt"))
		}))
		defer srv.Close()

		g := NewGateway(&poolsStub{}, &cfgStub{cfg: domain.TenantConfig{APIBaseURL: srv.URL + "/"}})

		content, err := g.SalesReceiptPDF(context.Background(), "t1", "WO-42")
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.4 receipt"), content)
		assert.Equal(t, "/api/Invoice/WO-42/pdf", gotPath)
	})

	t.Run("skips tenants without an api base url", func(t *testing.T) {
		g := NewGateway(&poolsStub{}, &cfgStub{})

		content, err := g.SalesReceiptPDF(context.Background(), "t1", "WO-42")
		require.NoError(t, err)
		assert.Nil(t, content)
	})

	t.Run("missing receipts are not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		g := NewGateway(&poolsStub{}, &cfgStub{cfg: domain.TenantConfig{APIBaseURL: srv.URL}})

		content, err := g.SalesReceiptPDF(context.Background(), "t1", "WO-404")
		require.NoError(t, err)
		assert.Nil(t, content)
	})

	t.Run("server failures degrade to no attachment", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		g := NewGateway(&poolsStub{}, &cfgStub{cfg: domain.TenantConfig{APIBaseURL: srv.URL}})

		content, err := g.SalesReceiptPDF(context.Background(), "t1", "WO-42")
		require.NoError(t, err)
		assert.Nil(t, content)
	})

	t.Run("config failures surface", func(t *testing.T) {
		g := NewGateway(&poolsStub{}, &cfgStub{err: domain.ErrTenantUnknown})

		_, err := g.SalesReceiptPDF(context.Background(), "t1", "WO-42")
		require.ErrorIs(t, err, domain.ErrTenantUnknown)
	})
}
