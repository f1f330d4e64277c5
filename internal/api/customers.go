package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// CustomersClient manages customer profiles.
type CustomersClient struct {
	session *Session
}

// customerResponse mirrors the wire JSON of a customer resource.
// Unexported — callers use Customer via toCustomer() normalization.
type customerResponse struct {
	ID         string         `json:"id"`
	Email      string         `json:"email"`
	FirstName  string         `json:"firstName"`
	LastName   string         `json:"lastName"`
	Attributes map[string]any `json:"attributes"`
	Tags       []string       `json:"tags"`
}

func (c *customerResponse) toCustomer() Customer {
	return Customer{
		ID:         c.ID,
		Email:      c.Email,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		Attributes: c.Attributes,
		Tags:       c.Tags,
	}
}

// Upsert creates or updates a customer profile keyed by its ID.
func (c *CustomersClient) Upsert(ctx context.Context, customer Customer) (*Customer, error) {
	if customer.ID == "" {
		return nil, fmt.Errorf("api: customer id is required")
	}

	body, err := json.Marshal(customer)
	if err != nil {
		return nil, fmt.Errorf("api: encoding customer: %w", err)
	}

	path := "/customers/" + url.PathEscape(customer.ID)

	resp, err := c.session.do(ctx, http.MethodPut, path, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cr customerResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("api: decoding customer response: %w", err)
	}

	result := cr.toCustomer()

	c.session.logger.Debug("upserted customer", slog.String("id", result.ID))

	return &result, nil
}

// Get fetches a customer profile by ID.
func (c *CustomersClient) Get(ctx context.Context, id string) (*Customer, error) {
	resp, err := c.session.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(id), nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cr customerResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("api: decoding customer response: %w", err)
	}

	result := cr.toCustomer()

	return &result, nil
}

// Delete removes a customer profile.
func (c *CustomersClient) Delete(ctx context.Context, id string) error {
	resp, err := c.session.do(ctx, http.MethodDelete, "/customers/"+url.PathEscape(id), nil, false)
	if err != nil {
		return err
	}
	resp.Body.Close()

	c.session.logger.Info("deleted customer", slog.String("id", id))

	return nil
}

// AddTags attaches tags to a customer profile.
func (c *CustomersClient) AddTags(ctx context.Context, id string, tags []string) error {
	return c.tagCall(ctx, id, "/tags", tags)
}

// RemoveTags detaches tags from a customer profile.
func (c *CustomersClient) RemoveTags(ctx context.Context, id string, tags []string) error {
	return c.tagCall(ctx, id, "/tags/remove", tags)
}

func (c *CustomersClient) tagCall(ctx context.Context, id, suffix string, tags []string) error {
	body, err := json.Marshal(map[string][]string{"tags": tags})
	if err != nil {
		return fmt.Errorf("api: encoding tags: %w", err)
	}

	path := "/customers/" + url.PathEscape(id) + suffix

	resp, err := c.session.do(ctx, http.MethodPost, path, body, false)
	if err != nil {
		return err
	}
	resp.Body.Close()

	return nil
}
