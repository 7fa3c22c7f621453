package tesla

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/langchou/tesinvoice/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	r, _ := newTestRequester(t, server.Client())
	return NewClient(r, server.URL, server.URL, server.URL+"/", "ownerapi", zaptest.NewLogger(t))
}

func TestListVehicles(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/1/products", r.URL.Path)
		assert.Equal(t, "orders=true", r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":[
			{"vin":"VIN1","display_name":"Red"},
			{"energy_site_id":42,"site_name":"Home"},
			{"vin":"VIN2","display_name":null},
			{"vin":"VIN1","display_name":"Blue"}
		],"count":4}`))
	})

	vehicles, err := client.ListVehicles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Vehicle{
		{VIN: "VIN1", DisplayName: "Blue"},
		{VIN: "VIN2"},
	}, vehicles)
}

func TestChargingHistory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mobile-app/charging/history", r.URL.Path)
		assert.Equal(t, "deviceLanguage=en&deviceCountry=AT&httpLocale=en_US&vin=VIN123&operationName=getChargingHistoryV2", r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"unlatchDateTime":"2024-05-10T12:00:00","countryCode":"AT","vin":"VIN123","invoices":[{"contentId":"c1","fileName":"inv.pdf"}]},
			{"unlatchDateTime":"2024-05-11T12:00:00","countryCode":"DE","vin":"VIN123","invoices":null}
		]}`))
	})

	sessions, err := client.ChargingHistory(context.Background(), "VIN123")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "AT", sessions[0].CountryCode)
	assert.Equal(t, []ChargingInvoiceRef{{ContentID: "c1", FileName: "inv.pdf"}}, sessions[0].Invoices)
	assert.Nil(t, sessions[1].Invoices)
}

func TestDocuments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mobile-app/charging/invoice/c1":
			assert.Equal(t, "deviceLanguage=en&deviceCountry=AT&httpLocale=en_US&vin=VIN123", r.URL.RawQuery)
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-charging"))
		case "/mobile-app/subscriptions/invoices":
			assert.Equal(t, "deviceLanguage=en&deviceCountry=AT&httpLocale=en_US&vin=VIN123&optionCode=$CPF1", r.URL.RawQuery)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":[{"InvoiceDate":"2024-05-01T00:00:00Z","InvoiceId":"s1","InvoiceFileName":"sub.pdf"}]}`))
		case "/mobile-app/documents/invoices/s1":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-subscription"))
		case "/mobile-app/charging/invoice/json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	data, err := client.ChargingInvoice(ctx, "VIN123", "c1")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-charging", string(data))

	invoices, err := client.SubscriptionInvoices(ctx, "VIN123")
	require.NoError(t, err)
	assert.Equal(t, []SubscriptionInvoice{{InvoiceDate: "2024-05-01T00:00:00Z", InvoiceID: "s1", InvoiceFileName: "sub.pdf"}}, invoices)

	data, err = client.SubscriptionInvoice(ctx, "VIN123", "s1")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-subscription", string(data))

	_, err = client.ChargingInvoice(ctx, "VIN123", "json")
	assert.Error(t, err)
}

func TestExchangeRefreshToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/oauth2/v3/token", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "ownerapi", r.PostForm.Get("client_id"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "openid email offline_access", r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"refresh-2","expires_in":28800,"token_type":"Bearer"}`))
	})

	pair, err := client.ExchangeRefreshToken(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", pair.AccessToken)
	assert.Equal(t, "refresh-2", pair.RefreshToken)

	_, err = client.ExchangeRefreshToken(context.Background(), "")
	assert.Error(t, err)
}

func TestExchangeRefreshToken_RemoteError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := client.ExchangeRefreshToken(context.Background(), "refresh-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
}
