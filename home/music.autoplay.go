package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

func handleMusicAutoplay(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}

	if sess.ToggleAutoplay() {
		replyText(event, "📻 Autoplay **enabled**. Related songs will keep playing when the queue runs out.")
		return
	}
	replyText(event, "📻 Autoplay **disabled**.")
}
