package domain

import "errors"

var ErrNotFound = errors.New("client not found")

// Client is the registry record owned by the client service. Other services
// never read it directly; they ask over the broker and receive a snapshot.
type Client struct {
	ID         string `json:"id"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// DisplayName is the name the order service snapshots onto orders.
func (c Client) DisplayName() string {
	return c.FirstName + " " + c.LastName
}

// Validate checks the fields required to register a client.
func (c Client) Validate() error {
	if c.FirstName == "" || c.LastName == "" {
		return errors.New("first and last name are required")
	}
	if c.Email == "" {
		return errors.New("email is required")
	}
	return nil
}
