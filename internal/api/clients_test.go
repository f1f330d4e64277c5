package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsPublish_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, ClientValue(), r.Header.Get(HeaderClient))
		assert.Equal(t, "org-1", r.Header.Get(HeaderOrganisation))

		var ev Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "cart_abandoned", ev.Name)
		assert.Equal(t, "cust-42", ev.CustomerID)

		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSession(Options{BaseURL: srv.URL, AccessToken: "A1", OrganisationID: "org-1"})
	s.sleepFunc = noopSleep

	err := s.Events().Publish(context.Background(), Event{
		Name:       "cart_abandoned",
		CustomerID: "cust-42",
		Data:       map[string]any{"items": 3},
	})
	require.NoError(t, err)
}

func TestEventsPublishBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/batch", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"accepted":2}`))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)

	accepted, err := s.Events().PublishBatch(context.Background(), []Event{
		{Name: "a"},
		{Name: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, accepted)
}

func TestCustomersUpsert(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/customers/cust-42", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"cust-42","email":"ada@example.com","tags":["vip"]}`))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)

	customer, err := s.Customers().Upsert(context.Background(), Customer{
		ID:    "cust-42",
		Email: "ada@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "cust-42", customer.ID)
	assert.Equal(t, "ada@example.com", customer.Email)
	assert.Equal(t, []string{"vip"}, customer.Tags)
}

func TestCustomersUpsert_RequiresID(t *testing.T) {
	s := NewSession(Options{BaseURL: "http://localhost"})

	_, err := s.Customers().Upsert(context.Background(), Customer{Email: "x@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customer id is required")
}

func TestCustomersGet_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such customer"}`))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)

	_, err := s.Customers().Get(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCustomersTags(t *testing.T) {
	var paths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"vip", "beta"}, body["tags"])

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)

	require.NoError(t, s.Customers().AddTags(context.Background(), "cust-42", []string{"vip", "beta"}))
	require.NoError(t, s.Customers().RemoveTags(context.Background(), "cust-42", []string{"vip", "beta"}))

	assert.Equal(t, []string{
		"/customers/cust-42/tags",
		"/customers/cust-42/tags/remove",
	}, paths)
}

func TestMessagesSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)

		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, []Channel{ChannelPush, ChannelEmail}, msg.Channels)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"msg-1","state":"queued"}`))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)

	receipt, err := s.Messages().Send(context.Background(), Message{
		CustomerID: "cust-42",
		Channels:   []Channel{ChannelPush, ChannelEmail},
		Body:       "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", receipt.ID)
	assert.Equal(t, "queued", receipt.State)
}

func TestMessagesSend_RequiresChannel(t *testing.T) {
	s := NewSession(Options{BaseURL: "http://localhost"})

	_, err := s.Messages().Send(context.Background(), Message{CustomerID: "c", Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one channel")
}

func TestMessagesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/msg-1", r.URL.Path)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"msg-1","state":"delivered","channels":{"push":"delivered","email":"bounced"}}`))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)

	status, err := s.Messages().Status(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "delivered", status.State)
	assert.Equal(t, "delivered", status.Channels[ChannelPush])
	assert.Equal(t, "bounced", status.Channels[ChannelEmail])
}

func TestAuthLogin_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)

	_, err := s.Auth().LoginClientApp(context.Background(), "key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing access token")
}
