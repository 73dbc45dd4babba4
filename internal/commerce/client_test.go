package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotifyAssigned(t *testing.T) {
	var (
		gotPath  string
		gotToken string
		gotBody  map[string]metafield
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", time.Second)
	err := c.NotifyAssigned(context.Background(), Assignment{OrderRef: "1001", UnitID: "EV-0007", PIN: "123456"})
	require.NoError(t, err)

	require.Equal(t, "/orders/1001/metafields.json", gotPath)
	require.Equal(t, "secret", gotToken)
	mf := gotBody["metafield"]
	require.Equal(t, "evidenca", mf.Namespace)
	require.Equal(t, "unit_EV-0007", mf.Key)
	require.JSONEq(t, `{"unit_id":"EV-0007","pin":"123456"}`, mf.Value)
}

func TestInviteOwner(t *testing.T) {
	var got map[string]customer
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/customers.json", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	require.NoError(t, c.InviteOwner(context.Background(), Invite{UnitID: "EV-0007", Email: "owner@example.com"}))
	require.Equal(t, "owner@example.com", got["customer"].Email)
	require.True(t, got["customer"].SendEmailInvite)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "order not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	err := c.NotifyAssigned(context.Background(), Assignment{OrderRef: "missing", UnitID: "U1", PIN: "000000"})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusNotFound, se.Status)
	require.Equal(t, "order not found", se.Body)
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, "secret", 50*time.Millisecond)
	err := c.InviteOwner(context.Background(), Invite{UnitID: "U1", Email: "a@example.com"})
	require.Error(t, err)
}
