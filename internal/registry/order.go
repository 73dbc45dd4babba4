package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Property names that carry a reservation token on an order.
var tokenProperties = map[string]bool{
	"_reservation_token": true,
	"reservation_token":  true,
}

// Order is the part of a paid-order payload the registry needs.
type Order struct {
	Ref    string
	Name   string
	Email  string
	Tokens []string
}

type orderProperty struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type orderPayload struct {
	ID       json.RawMessage `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Customer *struct {
		Email string `json:"email"`
	} `json:"customer"`
	LineItems []struct {
		Properties []orderProperty `json:"properties"`
	} `json:"line_items"`
	NoteAttributes []orderProperty `json:"note_attributes"`
}

// ParseOrder extracts the order reference, buyer email and every referenced
// reservation token, in order of first appearance.
func ParseOrder(payload []byte) (Order, error) {
	var p orderPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	ref := string(bytes.Trim(bytes.TrimSpace(p.ID), `"`))
	if ref == "" || ref == "null" {
		return Order{}, fmt.Errorf("%w: order id is missing", ErrInvalidPayload)
	}

	o := Order{
		Ref:   ref,
		Name:  p.Name,
		Email: strings.TrimSpace(p.Email),
	}
	if o.Email == "" && p.Customer != nil {
		o.Email = strings.TrimSpace(p.Customer.Email)
	}

	seen := make(map[string]bool)
	add := func(props []orderProperty) {
		for _, prop := range props {
			if !tokenProperties[prop.Name] {
				continue
			}
			tok, ok := prop.Value.(string)
			tok = strings.TrimSpace(tok)
			if !ok || tok == "" || seen[tok] {
				continue
			}
			seen[tok] = true
			o.Tokens = append(o.Tokens, tok)
		}
	}
	for _, item := range p.LineItems {
		add(item.Properties)
	}
	add(p.NoteAttributes)

	return o, nil
}
