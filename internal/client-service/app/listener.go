package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jcortesdev/microcommerce/internal/client-service/domain"
	"github.com/jcortesdev/microcommerce/internal/pkg/messaging"
	"github.com/jcortesdev/microcommerce/internal/pkg/wire"
)

const serviceName = "client-service"

// Listener answers client.query messages on client.response. Dispatch is by
// field presence: a clientId selects a single lookup, an empty one the full
// list.
type Listener struct {
	repo Repository
	pub  messaging.Publisher
}

func NewListener(repo Repository, pub messaging.Publisher) *Listener {
	return &Listener{repo: repo, pub: pub}
}

// Start subscribes the listener to its query queue.
func (l *Listener) Start(ctx context.Context, sub messaging.Subscriber) error {
	return sub.Subscribe(ctx, wire.KeyClientQuery, l.HandleQuery)
}

// HandleQuery processes one query message and always publishes a reply
// echoing the correlation id, even on malformed input.
func (l *Listener) HandleQuery(ctx context.Context, body []byte) {
	var query wire.ClientQuery
	if err := json.Unmarshal(body, &query); err != nil {
		slog.WarnContext(ctx, "malformed client query dropped", "error", err)
		return
	}

	resp := wire.ClientResponse{
		CorrelationID: query.CorrelationID,
		Service:       serviceName,
	}

	if query.ClientID != "" {
		l.lookup(ctx, query.ClientID, &resp)
	} else {
		l.list(ctx, &resp)
	}

	l.reply(ctx, resp)
}

func (l *Listener) lookup(ctx context.Context, id string, resp *wire.ClientResponse) {
	client, err := l.repo.FindByID(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		resp.Status = wire.StatusNotFound
		resp.Message = fmt.Sprintf("no client with id %s", id)
	case err != nil:
		resp.Status = wire.StatusError
		resp.Message = err.Error()
	default:
		resp.Status = wire.StatusSuccess
		snapshot := snapshotOf(client)
		resp.Client = &snapshot
	}
}

func (l *Listener) list(ctx context.Context, resp *wire.ClientResponse) {
	clients, err := l.repo.FindAll(ctx)
	if err != nil {
		resp.Status = wire.StatusError
		resp.Message = err.Error()
		return
	}
	resp.Status = wire.StatusSuccess
	resp.Clients = make([]wire.ClientSnapshot, len(clients))
	for i, c := range clients {
		resp.Clients[i] = snapshotOf(c)
	}
}

func (l *Listener) reply(ctx context.Context, resp wire.ClientResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "marshal client response", "error", err)
		return
	}
	if err := l.pub.Publish(ctx, wire.KeyClientResponse, body); err != nil {
		slog.ErrorContext(ctx, "publish client response", "correlation_id", resp.CorrelationID, "error", err)
	}
}

func snapshotOf(c domain.Client) wire.ClientSnapshot {
	return wire.ClientSnapshot{
		ID:         c.ID,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		Email:      c.Email,
		Phone:      c.Phone,
		Address:    c.Address,
		City:       c.City,
		PostalCode: c.PostalCode,
		Country:    c.Country,
	}
}
