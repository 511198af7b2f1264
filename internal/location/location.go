// Package location handles the optional geotag attached to a recording.
package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"uk.co.dudmesh.helpline/internal/model"
)

// FetchTimeout bounds a single position fetch.
const FetchTimeout = 10 * time.Second

var ErrUnsupported = errors.New("geolocation is not supported on this device")

// Provider returns the device position. Implementations should favour the
// most accurate fix available and must not return cached positions.
type Provider interface {
	CurrentPosition(ctx context.Context) (model.Location, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context) (model.Location, error)

func (f ProviderFunc) CurrentPosition(ctx context.Context) (model.Location, error) {
	return f(ctx)
}

// Static always reports the same position, e.g. one given on the command
// line.
type Static model.Location

func (s Static) CurrentPosition(ctx context.Context) (model.Location, error) {
	return model.Location(s), nil
}

// Current performs a one-shot fetch bounded by FetchTimeout.
func Current(ctx context.Context, provider Provider) (*model.Location, error) {
	if provider == nil {
		return nil, ErrUnsupported
	}

	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	type result struct {
		loc model.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := provider.CurrentPosition(ctx)
		done <- result{loc, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("getting location: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("getting location: %w", r.err)
		}
		if err := Validate(r.loc); err != nil {
			return nil, err
		}
		return &r.loc, nil
	}
}

func Validate(loc model.Location) error {
	if math.IsNaN(loc.Latitude) || math.IsNaN(loc.Longitude) {
		return model.ErrorInvalidLocation
	}
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", model.ErrorInvalidLocation, loc.Latitude)
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", model.ErrorInvalidLocation, loc.Longitude)
	}
	return nil
}

func Format(loc model.Location) string {
	return fmt.Sprintf("%.6f, %.6f", loc.Latitude, loc.Longitude)
}

func MapsURL(loc model.Location) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%v,%v", loc.Latitude, loc.Longitude)
}
