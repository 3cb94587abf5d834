package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrPropertyNotFound = errors.New("property not found")

// Property answers existence and title lookups against the listing catalog.
type Property interface {
	Exists(ctx context.Context, propertyID string) (bool, error)
	Title(ctx context.Context, propertyID string) (string, error)
}

type HTTPProperty struct {
	disc Discovery
	http *http.Client
	cb   *gobreaker.CircuitBreaker
}

const propertyService = "property-service"

func NewHTTPProperty(disc Discovery, log *zap.SugaredLogger) *HTTPProperty {
	return &HTTPProperty{
		disc: disc,
		http: &http.Client{Timeout: 5 * time.Second},
		cb:   newBreaker("property", log),
	}
}

func (c *HTTPProperty) Exists(ctx context.Context, propertyID string) (bool, error) {
	_, err := c.fetch(ctx, propertyID)
	if err != nil {
		if errors.Is(err, ErrPropertyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *HTTPProperty) Title(ctx context.Context, propertyID string) (string, error) {
	p, err := c.fetch(ctx, propertyID)
	if err != nil {
		return "", err
	}
	return p.Title, nil
}

type propertyRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (c *HTTPProperty) fetch(ctx context.Context, propertyID string) (*propertyRef, error) {
	base, err := c.disc.Lookup(propertyService)
	if err != nil {
		return nil, err
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/internal/properties/%s", base, propertyID), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, errNotFoundMarker
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("property lookup: unexpected status %d", resp.StatusCode)
		}
		var p propertyRef
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, err
		}
		return &p, nil
	})
	if err != nil {
		if errors.Is(err, errNotFoundMarker) {
			return nil, ErrPropertyNotFound
		}
		return nil, err
	}
	return out.(*propertyRef), nil
}
