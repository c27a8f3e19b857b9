package home

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/yuigahama/hibiki/proc"
	"github.com/yuigahama/hibiki/sys"
)

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := data.String("query")

	channelID, inVoice := userVoiceChannel(event)
	if !inVoice {
		replyEphemeral(event, "Join a voice channel first.")
		return
	}

	// Resolution can take seconds; defer immediately.
	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	vm := proc.GetPlayerManager()
	sess, err := vm.Connect(ctx, event.Client(), *event.GuildID(), channelID)
	if err != nil {
		sys.LogError("Voice connect failed: %v", err)
		updateResponse(event, "Could not join your voice channel: "+err.Error())
		return
	}

	if isPlaylistURL(query) {
		enqueuePlaylist(ctx, event, sess, query)
		return
	}

	track, err := vm.Resolver().Resolve(ctx, query)
	if err != nil {
		sys.LogError("Resolve failed for %q: %v", query, err)
		updateResponse(event, "Could not find anything for that query.")
		return
	}

	pos := sess.Enqueue(track)
	if sess.Current() == nil {
		go sess.PlayNext(context.Background())
		updateResponse(event, fmt.Sprintf("▶️ Playing **%s** [%s]", track.Title, proc.FormatTrackDuration(track.Duration)))
		return
	}
	updateResponse(event, fmt.Sprintf("➕ Queued **%s** [%s] (position %d)", track.Title, proc.FormatTrackDuration(track.Duration), pos))
}

func enqueuePlaylist(ctx context.Context, event *events.ApplicationCommandInteractionCreate, sess *proc.Session, url string) {
	vm := proc.GetPlayerManager()
	entries, err := vm.Resolver().ResolvePlaylist(ctx, url)
	if err != nil {
		sys.LogError("Playlist resolve failed: %v", err)
		updateResponse(event, "Could not read that playlist.")
		return
	}

	// Resolve the first entry inline so playback starts promptly; the rest
	// resolve in the background in order.
	first, err := vm.Resolver().Resolve(ctx, entries[0].URL)
	if err != nil {
		updateResponse(event, "Could not resolve the first playlist entry.")
		return
	}
	sess.Enqueue(first)

	rest := entries[1:]
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		for _, e := range rest {
			t, err := vm.Resolver().Resolve(bgCtx, e.URL)
			if err != nil {
				sys.LogVoice("Skipping playlist entry %s: %v", e.VideoID, err)
				continue
			}
			sess.Enqueue(t)
		}
	}()

	if sess.Current() == nil {
		go sess.PlayNext(context.Background())
	}
	updateResponse(event, fmt.Sprintf("📜 Queued **%d** tracks from the playlist, starting with **%s**.", len(entries), first.Title))
}

func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		return
	}
	query := strings.TrimSpace(focused.String())
	if query == "" || strings.HasPrefix(query, "http") {
		_ = event.AutocompleteResult(nil)
		return
	}

	vm := proc.GetPlayerManager()
	if vm == nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	cands, err := vm.Catalog().SearchTracks(ctx, query, 25)
	if err != nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	var choices []discord.AutocompleteChoice
	for _, c := range cands {
		name := c.Title
		if c.Artist != "" {
			name = c.Title + " — " + c.Artist
		}
		if len(name) > 100 {
			name = name[:97] + "..."
		}
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  name,
			Value: "https://www.youtube.com/watch?v=" + c.VideoID,
		})
	}
	_ = event.AutocompleteResult(choices)
}

func isPlaylistURL(q string) bool {
	if !strings.HasPrefix(q, "http") || !strings.Contains(q, "list=") {
		return false
	}
	// Mix playlists (RD...) are autoplay feeds, not user playlists.
	return !strings.Contains(q, "list=RD")
}

func updateResponse(event *events.ApplicationCommandInteractionCreate, content string) {
	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetContent(content).
		Build())
}
