package home

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/yuigahama/hibiki/proc"
)

func handleMusicSkip(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}
	current := sess.Current()
	if current == nil || !sess.Skip() {
		replyEphemeral(event, "Nothing to skip.")
		return
	}
	replyText(event, fmt.Sprintf("⏭️ Skipped **%s**.", current.Title))
}

func handleMusicPause(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}
	if !sess.Pause() {
		replyEphemeral(event, "Nothing is playing, or it is already paused.")
		return
	}
	replyText(event, "⏸️ Paused.")
}

func handleMusicResume(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}
	if !sess.Resume() {
		replyEphemeral(event, "Nothing is paused.")
		return
	}
	replyText(event, "▶️ Resumed.")
}

func handleMusicShuffle(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}
	n := sess.ShuffleQueue()
	if n < 2 {
		replyEphemeral(event, "Not enough queued songs to shuffle.")
		return
	}
	replyText(event, fmt.Sprintf("🔀 Shuffled %d songs.", n))
}

func handleMusicClear(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}
	n := sess.ClearQueue()
	replyText(event, fmt.Sprintf("🗑️ Cleared %d queued songs.", n))
}

func handleMusicVolume(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}
	percent := data.Int("percent")
	sess.SetVolume(percent)
	replyText(event, fmt.Sprintf("🔊 Volume set to %d%%. Takes effect on the next song.", sess.Volume()))
}

func handleMusicHistory(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}
	sess.ClearHistory()
	replyText(event, "🧹 Play history forgotten. Autoplay can repeat songs again.")
}

func handleMusicStop(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	vm := proc.GetPlayerManager()
	if vm == nil || event.GuildID() == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	vm.Disconnect(ctx, *event.GuildID())
	replyText(event, "🛑 Stopped and disconnected.")
}
