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

	"github.com/keyhaven/messaging-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// Profile is the slice of a marketplace user the messaging service needs.
type Profile struct {
	UserID string      `json:"id"`
	Name   string      `json:"name"`
	Role   models.Role `json:"role"`
}

// Identity resolves a user id to its profile (role snapshot source).
type Identity interface {
	Profile(ctx context.Context, userID string) (*Profile, error)
}

type HTTPIdentity struct {
	disc Discovery
	http *http.Client
	cb   *gobreaker.CircuitBreaker
	log  *zap.SugaredLogger
}

const identityService = "user-service"

func NewHTTPIdentity(disc Discovery, log *zap.SugaredLogger) *HTTPIdentity {
	return &HTTPIdentity{
		disc: disc,
		http: &http.Client{Timeout: 5 * time.Second},
		cb:   newBreaker("identity", log),
		log:  log,
	}
}

func (c *HTTPIdentity) Profile(ctx context.Context, userID string) (*Profile, error) {
	base, err := c.disc.Lookup(identityService)
	if err != nil {
		return nil, err
	}

	out, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/internal/users/%s", base, userID), nil)
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
			return nil, fmt.Errorf("identity lookup: unexpected status %d", resp.StatusCode)
		}
		var p Profile
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, err
		}
		return &p, nil
	})
	if err != nil {
		if errors.Is(err, errNotFoundMarker) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return out.(*Profile), nil
}

// errNotFoundMarker keeps 404s from tripping the breaker apart from transport
// failures while still aborting the call.
var errNotFoundMarker = errors.New("not found upstream")

func newBreaker(name string, log *zap.SugaredLogger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNotFoundMarker)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	})
}
