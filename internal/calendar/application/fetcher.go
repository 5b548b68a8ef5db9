package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridianbh/cadence/internal/calendar/domain"
	connDomain "github.com/meridianbh/cadence/internal/connections/domain"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"

	"github.com/google/uuid"
)

// ProviderFetchError records a transient failure fetching one connection's
// events. It never aborts the overall fetch.
type ProviderFetchError struct {
	ConnectionID uuid.UUID
	Provider     connDomain.Provider
	Err          error
}

func (e *ProviderFetchError) Error() string {
	return fmt.Sprintf("fetch failed for %s connection %s: %v", e.Provider, e.ConnectionID, e.Err)
}

func (e *ProviderFetchError) Unwrap() error { return e.Err }

// EventSource fetches provider-native events for one connection and
// normalizes them.
type EventSource interface {
	FetchEvents(ctx context.Context, conn *connDomain.Connection, accessToken string, window schedulingDomain.TimeRange) ([]domain.SyncedEvent, error)
}

// SourceRegistry maps providers to their event sources.
type SourceRegistry struct {
	sources map[connDomain.Provider]EventSource
}

// NewSourceRegistry creates an empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{sources: make(map[connDomain.Provider]EventSource)}
}

// Register adds an event source for a provider.
func (r *SourceRegistry) Register(provider connDomain.Provider, source EventSource) {
	r.sources[provider] = source
}

// Source returns the event source for a provider.
func (r *SourceRegistry) Source(provider connDomain.Provider) (EventSource, bool) {
	s, ok := r.sources[provider]
	return s, ok
}

// TokenProvider supplies a valid access token for a connection, refreshing
// if necessary.
type TokenProvider interface {
	EnsureFresh(ctx context.Context, connectionID uuid.UUID) (string, error)
}

// FetchResult aggregates events and per-connection failures for one window.
// A fetch across five connections with one failure carries four connections'
// events plus one error entry; it is never a total failure.
type FetchResult struct {
	Events []domain.SyncedEvent
	Errors []*ProviderFetchError
}

// EventFetcher retrieves external events in a window across all of a user's
// active connections.
type EventFetcher struct {
	conns    connDomain.ConnectionRepository
	tokens   TokenProvider
	registry *SourceRegistry
	logger   *slog.Logger
}

// NewEventFetcher creates an event fetcher.
func NewEventFetcher(
	conns connDomain.ConnectionRepository,
	tokens TokenProvider,
	registry *SourceRegistry,
	logger *slog.Logger,
) *EventFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventFetcher{conns: conns, tokens: tokens, registry: registry, logger: logger}
}

// FetchWindow fetches events overlapping the window for each active
// connection of the owner, sequentially. Per-connection failures (auth or
// provider) are recorded and the remaining connections still fetch.
func (f *EventFetcher) FetchWindow(ctx context.Context, ownerID uuid.UUID, window schedulingDomain.TimeRange) (*FetchResult, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	conns, err := f.conns.FindActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load active connections: %w", err)
	}

	result := &FetchResult{}
	for _, conn := range conns {
		events, fetchErr := f.fetchOne(ctx, conn, window)
		if fetchErr != nil {
			f.logger.Warn("connection fetch failed",
				"connection_id", conn.ID(),
				"provider", conn.Provider(),
				"error", fetchErr.Err,
			)
			result.Errors = append(result.Errors, fetchErr)
			continue
		}
		result.Events = append(result.Events, events...)

		conn.MarkSynced()
		if err := f.conns.Save(ctx, conn); err != nil {
			f.logger.Warn("failed to record sync time", "connection_id", conn.ID(), "error", err)
		}
	}
	return result, nil
}

func (f *EventFetcher) fetchOne(ctx context.Context, conn *connDomain.Connection, window schedulingDomain.TimeRange) ([]domain.SyncedEvent, *ProviderFetchError) {
	source, ok := f.registry.Source(conn.Provider())
	if !ok {
		return nil, &ProviderFetchError{
			ConnectionID: conn.ID(),
			Provider:     conn.Provider(),
			Err:          fmt.Errorf("no event source registered for provider %q", conn.Provider()),
		}
	}

	token, err := f.tokens.EnsureFresh(ctx, conn.ID())
	if err != nil {
		return nil, &ProviderFetchError{ConnectionID: conn.ID(), Provider: conn.Provider(), Err: err}
	}

	events, err := source.FetchEvents(ctx, conn, token, window)
	if err != nil {
		return nil, &ProviderFetchError{ConnectionID: conn.ID(), Provider: conn.Provider(), Err: err}
	}

	// Providers can be sloppy about window edges; drop events outside the
	// window and events with inverted intervals.
	kept := events[:0]
	for _, ev := range events {
		if ev.End.After(ev.Start) && ev.InWindow(window) {
			kept = append(kept, ev)
		}
	}
	return kept, nil
}
