package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	return client
}

func TestGetOrgSubscriptions(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customer/bob/subscription", r.URL.Path)
		assert.Equal(t, "bigco", r.URL.Query().Get("org"))
		json.NewEncoder(w).Encode([]Subscription{{
			ID:        "sub_abcd",
			Org:       "bigco",
			Plan:      "paid-org-7",
			Quantity:  2,
			LicenseID: 1,
			Amount:    700,
			Status:    "active",
		}})
	}))

	subs, err := client.GetOrgSubscriptions(context.Background(), "bob", "bigco")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, 1, subs[0].LicenseID)
	assert.Equal(t, 700, subs[0].Amount)
}

func TestGetOrgSubscriptionsEmptyVsNotFound(t *testing.T) {
	t.Run("customer with no license gets an empty list", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]Subscription{})
		}))
		subs, err := client.GetOrgSubscriptions(context.Background(), "bob", "bigco")
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("non-customer gets ErrNotFound", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		_, err := client.GetOrgSubscriptions(context.Background(), "bob", "bigco")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateSubscription(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/customer/bob/subscription", r.URL.Path)
		var req CreateSubscriptionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bigco", req.Org)
		assert.Equal(t, "paid-org-7", req.Plan)
		assert.Equal(t, 2, req.Quantity)
		json.NewEncoder(w).Encode(Subscription{ID: "sub_new", Org: "bigco", LicenseID: 28})
	}))

	sub, err := client.CreateSubscription(context.Background(), "bob", CreateSubscriptionRequest{
		Org: "bigco", Plan: "paid-org-7", Quantity: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 28, sub.LicenseID)
}

func TestCancelSubscription(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/customer/bob/subscription/sub_abcd", r.URL.Path)
		json.NewEncoder(w).Encode(Subscription{ID: "sub_abcd", Status: "canceled"})
	}))

	sub, err := client.CancelSubscription(context.Background(), "bob", "sub_abcd")
	require.NoError(t, err)
	assert.Equal(t, "canceled", sub.Status)
}

func TestGetCustomerNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := client.GetCustomer(context.Background(), "betty")
	assert.ErrorIs(t, err, ErrNotFound)
}
