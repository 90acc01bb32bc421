// Package matrix connects the bot to a Matrix homeserver through mautrix.
// Rooms are channels, event ids are message ids.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/TymurD/miquella/internal/miquella/chat"
)

var _ chat.Platform = (*Platform)(nil)
var _ chat.Source = (*Platform)(nil)

const (
	backoffMin = 2 * time.Second
	backoffMax = 5 * time.Minute

	displayNameCacheSize = 1024
	// Upper bound on events scanned per history fetch, so a room full of
	// state events cannot page forever.
	maxHistoryPages = 5
)

// Config holds the connection settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are glob patterns over room ids the bot takes part in.
	Rooms []string
	// AutoJoin accepts invites into allowed rooms.
	AutoJoin bool
	// DB persists the sync position. Nil means an in-memory store and a
	// full replay on restart, which Listen suppresses by dropping events
	// older than the start time.
	DB     *sql.DB
	Logger *slog.Logger
}

// Platform implements chat.Platform and chat.Source over one Matrix account.
type Platform struct {
	client  *mautrix.Client
	self    id.UserID
	rooms   *RoomFilter
	names   *lru.Cache[id.UserID, string]
	logger  *slog.Logger
	join    bool
	started time.Time
}

// New creates the client. Nothing is contacted until Listen.
func New(cfg Config) (*Platform, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	rooms, err := NewRoomFilter(cfg.Rooms)
	if err != nil {
		return nil, err
	}
	names, err := lru.New[id.UserID, string](displayNameCacheSize)
	if err != nil {
		return nil, err
	}

	if cfg.DB != nil {
		client.Store = NewSyncStore(cfg.DB)
	} else {
		cfg.Logger.Warn("matrix sync store not configured, timeline will replay on restart")
	}

	return &Platform{
		client:  client,
		self:    id.UserID(cfg.UserID),
		rooms:   rooms,
		names:   names,
		logger:  cfg.Logger,
		join:    cfg.AutoJoin,
		started: time.Now(),
	}, nil
}

// Listen syncs until ctx is cancelled, calling h for every text message in
// an allowed room. Transient sync errors are retried with backoff; an
// invalid access token is returned.
func (p *Platform) Listen(ctx context.Context, h chat.Handler) error {
	syncer, ok := p.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if msg, ok := p.inbound(ctx, evt); ok {
			h(ctx, msg)
		}
	})
	if p.join {
		syncer.OnEventType(event.StateMember, p.handleInvite)
	}

	p.logger.Warn("matrix E2EE is not enabled; encrypted rooms will be ignored")

	backoff := backoffMin
	for {
		err := p.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, mautrix.MUnknownToken) {
			return fmt.Errorf("matrix sync: %w", err)
		}

		p.logger.Error("matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

func (p *Platform) inbound(ctx context.Context, evt *event.Event) (chat.Message, bool) {
	if !p.rooms.Allowed(evt.RoomID.String()) {
		return chat.Message{}, false
	}
	if time.UnixMilli(evt.Timestamp).Before(p.started) {
		return chat.Message{}, false
	}
	msg, ok := p.toMessage(ctx, evt)
	if !ok || msg.FromSelf {
		return chat.Message{}, false
	}
	return msg, true
}

func (p *Platform) handleInvite(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != p.self.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}
	if !p.rooms.Allowed(evt.RoomID.String()) {
		p.logger.Info("ignoring invite to room outside the allowlist", "room", evt.RoomID, "inviter", evt.Sender)
		return
	}
	if _, err := p.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			p.logger.Warn("join refused", "room", evt.RoomID)
			return
		}
		p.logger.Error("join room", "room", evt.RoomID, "err", err)
		return
	}
	p.logger.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

// FetchHistory pages backwards through the room timeline. Edits are folded
// into the message they replace; redacted and non-text events are skipped.
func (p *Platform) FetchHistory(ctx context.Context, channelID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	roomID := id.RoomID(channelID)

	var (
		out      []chat.Message
		edits    = make(map[id.EventID]string)
		from     string
		pageSize = max(limit*2, 20)
	)
	for page := 0; page < maxHistoryPages && len(out) < limit; page++ {
		resp, err := p.client.Messages(ctx, roomID, from, "", mautrix.DirectionBackward, nil, pageSize)
		if err != nil {
			return nil, fmt.Errorf("matrix messages %s: %w", channelID, err)
		}
		for _, evt := range resp.Chunk {
			if evt.Type.Type != event.EventMessage.Type || evt.Unsigned.RedactedBecause != nil {
				continue
			}
			if err := evt.Content.ParseRaw(evt.Type); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
				continue
			}
			content := evt.Content.AsMessage()
			if content == nil {
				continue
			}
			// Newest first, so the first edit seen for an event is the latest.
			if orig := content.RelatesTo.GetReplaceID(); orig != "" {
				if _, seen := edits[orig]; !seen && content.NewContent != nil {
					edits[orig] = content.NewContent.Body
				}
				continue
			}
			msg, ok := p.toMessage(ctx, evt)
			if !ok {
				continue
			}
			if body, edited := edits[evt.ID]; edited {
				msg.Content = body
			}
			out = append(out, msg)
			if len(out) == limit {
				break
			}
		}
		if resp.End == "" || len(resp.Chunk) == 0 {
			break
		}
		from = resp.End
	}
	return out, nil
}

// Send posts a plain text message.
func (p *Platform) Send(ctx context.Context, channelID, text string) (chat.Message, error) {
	resp, err := p.client.SendText(ctx, id.RoomID(channelID), text)
	if err != nil {
		return chat.Message{}, fmt.Errorf("matrix send to %s: %w", channelID, err)
	}
	return chat.Message{
		ID:        resp.EventID.String(),
		Author:    p.displayName(ctx, p.self),
		SenderID:  p.self.String(),
		Content:   text,
		Timestamp: time.Now().UTC(),
		ChannelID: channelID,
		FromSelf:  true,
	}, nil
}

// Edit sends an m.replace edit of msg.
func (p *Platform) Edit(ctx context.Context, msg chat.Message, text string) error {
	if err := p.exists(ctx, msg); err != nil {
		return err
	}
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	content.SetEdit(id.EventID(msg.ID))
	if _, err := p.client.SendMessageEvent(ctx, id.RoomID(msg.ChannelID), event.EventMessage, content); err != nil {
		return fmt.Errorf("matrix edit %s: %w", msg.ID, notFound(err))
	}
	return nil
}

// Delete redacts msg.
func (p *Platform) Delete(ctx context.Context, msg chat.Message) error {
	if err := p.exists(ctx, msg); err != nil {
		return err
	}
	if _, err := p.client.RedactEvent(ctx, id.RoomID(msg.ChannelID), id.EventID(msg.ID)); err != nil {
		return fmt.Errorf("matrix redact %s: %w", msg.ID, notFound(err))
	}
	return nil
}

// exists maps a missing or already redacted event to chat.ErrNotFound.
// Homeservers accept edits and redactions of redacted events silently.
func (p *Platform) exists(ctx context.Context, msg chat.Message) error {
	evt, err := p.client.GetEvent(ctx, id.RoomID(msg.ChannelID), id.EventID(msg.ID))
	if err != nil {
		return fmt.Errorf("matrix get %s: %w", msg.ID, notFound(err))
	}
	if evt.Unsigned.RedactedBecause != nil {
		return fmt.Errorf("matrix get %s: %w", msg.ID, chat.ErrNotFound)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mautrix.MNotFound) {
		return fmt.Errorf("%w: %w", chat.ErrNotFound, err)
	}
	return err
}

func (p *Platform) toMessage(ctx context.Context, evt *event.Event) (chat.Message, bool) {
	if err := evt.Content.ParseRaw(evt.Type); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
		return chat.Message{}, false
	}
	content := evt.Content.AsMessage()
	if content == nil || content.RelatesTo.GetReplaceID() != "" {
		return chat.Message{}, false
	}
	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
	default:
		return chat.Message{}, false
	}
	body := strings.TrimSpace(content.Body)
	if body == "" {
		return chat.Message{}, false
	}
	return chat.Message{
		ID:        evt.ID.String(),
		Author:    p.displayName(ctx, evt.Sender),
		SenderID:  evt.Sender.String(),
		Content:   body,
		Timestamp: time.UnixMilli(evt.Timestamp).UTC(),
		ChannelID: evt.RoomID.String(),
		FromSelf:  evt.Sender == p.self,
	}, true
}

// displayName resolves and caches profile names, falling back to the
// localpart when the profile cannot be read.
func (p *Platform) displayName(ctx context.Context, userID id.UserID) string {
	if name, ok := p.names.Get(userID); ok {
		return name
	}
	name, _, _ := userID.Parse()
	if profile, err := p.client.GetProfile(ctx, userID); err == nil && profile.DisplayName != "" {
		name = profile.DisplayName
	} else if err != nil {
		p.logger.Debug("profile lookup failed", "user", userID, "err", err)
	}
	if name == "" {
		name = userID.String()
	}
	p.names.Add(userID, name)
	return name
}
