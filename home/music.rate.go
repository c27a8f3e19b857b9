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

var ratingLabels = map[int]string{
	-2: "never again",
	-1: "not a fan",
	1:  "nice",
	2:  "love it",
}

func handleMusicRate(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}
	current := sess.Current()
	if current == nil {
		replyEphemeral(event, "Nothing is playing to rate.")
		return
	}

	rating := data.Int("rating")
	store := proc.GetRatingStore()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	guildID := event.GuildID().String()
	userID := event.User().ID.String()

	if rating == 0 {
		if err := store.Clear(ctx, guildID, current.VideoID, userID); err != nil {
			sys.LogRatings("Clear failed: %v", err)
			replyEphemeral(event, "Could not clear your rating.")
			return
		}
		replyText(event, fmt.Sprintf("Cleared your rating for **%s**.", current.Title))
		return
	}

	if err := store.Rate(ctx, guildID, current.VideoID, userID, rating, current.Title, current.Channel); err != nil {
		sys.LogRatings("Rate failed: %v", err)
		replyEphemeral(event, "Could not save your rating.")
		return
	}

	score, votes, err := store.TrackScore(ctx, guildID, current.VideoID)
	if err != nil {
		replyText(event, fmt.Sprintf("Rated **%s** %+d (%s).", current.Title, rating, ratingLabels[rating]))
		return
	}
	replyText(event, fmt.Sprintf("Rated **%s** %+d (%s). Server score: %+d from %d votes.",
		current.Title, rating, ratingLabels[rating], score, votes))
}

func handleMusicRatings(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	if event.GuildID() == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	top, err := proc.GetRatingStore().TopRated(ctx, event.GuildID().String(), 10)
	if err != nil {
		sys.LogRatings("TopRated failed: %v", err)
		replyEphemeral(event, "Could not load ratings.")
		return
	}
	if len(top) == 0 {
		replyEphemeral(event, "No songs have been rated yet.")
		return
	}

	var b strings.Builder
	for i, t := range top {
		title := t.Title
		if title == "" {
			title = t.VideoID
		}
		fmt.Fprintf(&b, "`%2d.` **%s** — %+d (%d votes)\n", i+1, title, t.Score, t.Votes)
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("⭐ Top Rated Songs").
		SetDescription(b.String()).
		SetColor(0xFFD700).
		Build()

	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetEmbeds(embed).
		Build())
}
