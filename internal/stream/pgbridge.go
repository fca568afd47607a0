package stream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/terra-clan/focus-engine/internal/models"
)

// NotifyChannel is the Postgres channel carrying profile updates
const NotifyChannel = "focus_profile_updates"

// notification is the pg_notify payload
type notification struct {
	Origin  string          `json:"origin"`
	Profile *models.Profile `json:"profile"`
}

// PGBridge relays profile updates between service instances over
// Postgres LISTEN/NOTIFY. Local publishes go to the hub directly; updates
// from other instances arrive through the listener.
type PGBridge struct {
	db         *sql.DB
	dsn        string
	hub        *Hub
	instanceID string
}

// NewPGBridge opens a notify connection for dsn
func NewPGBridge(dsn string, hub *Hub) (*PGBridge, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	db.SetMaxOpenConns(2)

	return &PGBridge{
		db:         db,
		dsn:        dsn,
		hub:        hub,
		instanceID: uuid.NewString(),
	}, nil
}

// PublishProfile delivers p locally and notifies other instances
func (b *PGBridge) PublishProfile(ctx context.Context, p *models.Profile) {
	b.hub.Publish(p)

	payload, err := json.Marshal(notification{Origin: b.instanceID, Profile: p})
	if err != nil {
		slog.Error("failed to encode profile notification", "error", err, "user_id", p.ID)
		return
	}

	if _, err := b.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
		slog.Warn("failed to notify profile update", "error", err, "user_id", p.ID)
	}
}

// Start listens for notifications until ctx is cancelled
func (b *PGBridge) Start(ctx context.Context) error {
	listener := pq.NewListener(b.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("profile listener event", "event", ev, "error", err)
		}
	})

	if err := listener.Listen(NotifyChannel); err != nil {
		listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}

	go b.run(ctx, listener)
	return nil
}

func (b *PGBridge) run(ctx context.Context, listener *pq.Listener) {
	defer listener.Close()
	slog.Info("profile listener started", "channel", NotifyChannel, "instance", b.instanceID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("profile listener stopped")
			return
		case n := <-listener.Notify:
			// nil after a reconnect; updates sent while disconnected are lost
			if n == nil {
				continue
			}
			b.handle(n.Extra)
		case <-time.After(90 * time.Second):
			go listener.Ping()
		}
	}
}

func (b *PGBridge) handle(payload string) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		slog.Warn("invalid profile notification", "error", err)
		return
	}
	if n.Origin == b.instanceID || n.Profile == nil {
		return
	}
	b.hub.Publish(n.Profile)
}

// HealthCheck verifies the notify connection
func (b *PGBridge) HealthCheck(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the notify connection
func (b *PGBridge) Close() error {
	return b.db.Close()
}
