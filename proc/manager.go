package proc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/yuigahama/hibiki/sys"
)

var (
	defaultManager *PlayerManager
	onceManager    sync.Once
)

// InitVoice wires the default manager with the shared backends. Called once at
// startup, before any command can reach GetPlayerManager.
func InitVoice(cache *AudioCache, ratings RatingSource) {
	onceManager.Do(func() {
		resolver := NewYtdlpResolver()
		defaultManager = NewPlayerManager(resolver, resolver, cache, ratings)
	})
}

func GetPlayerManager() *PlayerManager {
	return defaultManager
}

type sessionEntry struct {
	session   *Session
	sink      *discordSink
	channelID snowflake.ID
	autoPause bool // we paused because the channel emptied
}

// PlayerManager owns one Session per guild plus the backends they share.
// Sessions are created on voice connect and destroyed on disconnect; guilds
// never observe each other's state.
type PlayerManager struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]*sessionEntry

	resolver Resolver
	catalog  Catalog
	cache    *AudioCache
	ratings  RatingSource
	client   *bot.Client
}

func NewPlayerManager(resolver Resolver, catalog Catalog, cache *AudioCache, ratings RatingSource) *PlayerManager {
	return &PlayerManager{
		sessions: make(map[snowflake.ID]*sessionEntry),
		resolver: resolver,
		catalog:  catalog,
		cache:    cache,
		ratings:  ratings,
	}
}

func (m *PlayerManager) Resolver() Resolver { return m.resolver }
func (m *PlayerManager) Catalog() Catalog   { return m.catalog }

// Session returns the guild's session, nil when not connected.
func (m *PlayerManager) Session(guildID snowflake.ID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[guildID]; ok {
		return e.session
	}
	return nil
}

// Connect joins the voice channel and returns the guild session, creating it
// on first use. Reconnecting to a different channel moves the bot without
// dropping session state.
func (m *PlayerManager) Connect(ctx context.Context, client *bot.Client, guildID, channelID snowflake.ID) (*Session, error) {
	m.mu.Lock()
	m.client = client
	if e, ok := m.sessions[guildID]; ok {
		if e.channelID == channelID && e.sink.Connected() {
			m.mu.Unlock()
			return e.session, nil
		}
		m.mu.Unlock()
		m.Disconnect(ctx, guildID)
		m.mu.Lock()
	}
	m.mu.Unlock()

	conn := client.VoiceManager.CreateConn(guildID)

	openCtx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()
	if err := conn.Open(openCtx, channelID, false, false); err != nil {
		return nil, fmt.Errorf("join voice channel: %w", err)
	}

	sink := newDiscordSink(conn)
	engine := NewEngine(m.catalog)
	session := NewSession(guildID.String(), sink, m.resolver, m.cache, engine, m.ratings)
	session.OnIdle = func(string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.Disconnect(ctx, guildID)
	}

	m.mu.Lock()
	m.sessions[guildID] = &sessionEntry{session: session, sink: sink, channelID: channelID}
	m.mu.Unlock()

	sys.LogVoice("Connected to channel %s in guild %s", channelID, guildID)
	return session, nil
}

// Disconnect tears the guild session down and leaves voice.
func (m *PlayerManager) Disconnect(ctx context.Context, guildID snowflake.ID) {
	m.mu.Lock()
	e, ok := m.sessions[guildID]
	if ok {
		delete(m.sessions, guildID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	e.session.Close()
	e.sink.Close(ctx)
	sys.LogVoice("Disconnected from guild %s", guildID)
}

// PlayAudioFile interrupts music with a local audio file and resumes where it
// left off. Used for announcements and sound effects sourced outside the
// queue.
func (m *PlayerManager) PlayAudioFile(ctx context.Context, guildID snowflake.ID, path string) error {
	m.mu.Lock()
	e, ok := m.sessions[guildID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no voice session for guild %s", guildID)
	}

	wasPlaying := e.session.Current() != nil && !e.session.IsPaused()
	if wasPlaying {
		e.session.Pause()
	}
	err := e.sink.PlayOverlay(ctx, path)
	if wasPlaying {
		e.session.Resume()
	}
	return err
}

// HandleVoiceStateUpdate reacts to voice membership changes: tears down when
// the bot is removed, pauses when the channel empties, resumes when listeners
// return.
func (m *PlayerManager) HandleVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	client := event.Client()
	guildID := event.VoiceState.GuildID
	botID := client.ID()

	if event.VoiceState.UserID == botID {
		if event.VoiceState.ChannelID == nil {
			// Kicked or moved out of voice.
			m.mu.Lock()
			_, had := m.sessions[guildID]
			m.mu.Unlock()
			if had {
				sys.LogVoice("Removed from voice in guild %s, cleaning up", guildID)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				m.Disconnect(ctx, guildID)
			}
			return
		}
		m.mu.Lock()
		if e, ok := m.sessions[guildID]; ok {
			e.channelID = *event.VoiceState.ChannelID
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	e, ok := m.sessions[guildID]
	if !ok {
		m.mu.Unlock()
		return
	}
	channelID := e.channelID
	m.mu.Unlock()

	listeners := 0
	for vs := range client.Caches.VoiceStates(guildID) {
		if vs.UserID == botID || vs.ChannelID == nil || *vs.ChannelID != channelID {
			continue
		}
		if member, ok := client.Caches.Member(guildID, vs.UserID); ok && member.User.Bot {
			continue
		}
		listeners++
	}

	m.mu.Lock()
	e, ok = m.sessions[guildID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if listeners == 0 {
		if e.session.Current() != nil && !e.session.IsPaused() {
			e.autoPause = true
			m.mu.Unlock()
			sys.LogVoice("Channel empty in guild %s, pausing", guildID)
			e.session.Pause()
			return
		}
	} else if e.autoPause {
		e.autoPause = false
		m.mu.Unlock()
		sys.LogVoice("Listeners back in guild %s, resuming", guildID)
		e.session.Resume()
		return
	}
	m.mu.Unlock()
}

// Shutdown closes every session and purges the cache.
func (m *PlayerManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	guilds := make([]snowflake.ID, 0, len(m.sessions))
	for id := range m.sessions {
		guilds = append(guilds, id)
	}
	m.mu.Unlock()

	for _, id := range guilds {
		m.Disconnect(ctx, id)
	}
	m.cache.PurgeAll()
}
