package home

import (
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/yuigahama/hibiki/proc"
)

const queuePageSize = 10

func handleMusicNow(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}
	current := sess.Current()
	if current == nil {
		replyEphemeral(event, "Nothing is playing.")
		return
	}

	position := ""
	if elapsed, ok := sess.Elapsed(); ok {
		if current.IsLive() {
			position = fmt.Sprintf("`%s / LIVE`", proc.FormatTrackDuration(elapsed))
		} else {
			position = fmt.Sprintf("%s\n`%s / %s`", progressBar(elapsed, current.Duration),
				proc.FormatTrackDuration(elapsed), proc.FormatTrackDuration(current.Duration))
		}
	}

	state := "▶️"
	if sess.IsPaused() {
		state = "⏸️"
	}

	embed := discord.NewEmbedBuilder().
		SetTitle(state + " Now Playing").
		SetDescription(fmt.Sprintf("[**%s**](%s)\nby %s\n%s", current.Title, current.PageURL, current.Channel, position)).
		SetColor(0x1DB954)
	if current.Thumbnail != "" {
		embed.SetThumbnail(current.Thumbnail)
	}

	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetEmbeds(embed.Build()).
		Build())
}

func progressBar(elapsed, total time.Duration) string {
	const slots = 12
	if total <= 0 {
		return ""
	}
	pos := int(float64(slots) * float64(elapsed) / float64(total))
	if pos >= slots {
		pos = slots - 1
	}
	var b strings.Builder
	for i := 0; i < slots; i++ {
		if i == pos {
			b.WriteString("🔘")
		} else {
			b.WriteString("▬")
		}
	}
	return b.String()
}

func handleMusicQueue(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	sess := requireSession(event)
	if sess == nil {
		return
	}

	var b strings.Builder

	if current := sess.Current(); current != nil {
		fmt.Fprintf(&b, "**Now:** %s [%s]\n\n", current.Title, proc.FormatTrackDuration(current.Duration))
	}

	queue := sess.Queue()
	if len(queue) == 0 {
		b.WriteString("The queue is empty.")
	} else {
		for i, t := range queue {
			if i >= queuePageSize {
				fmt.Fprintf(&b, "...and %d more.\n", len(queue)-queuePageSize)
				break
			}
			fmt.Fprintf(&b, "`%2d.` %s [%s]\n", i+1, t.Title, proc.FormatTrackDuration(t.Duration))
		}
	}

	if sess.Autoplay() {
		if upcoming := sess.Upcoming(); len(upcoming) > 0 {
			b.WriteString("\n**Up next (autoplay):**\n")
			for _, t := range upcoming {
				fmt.Fprintf(&b, "• %s\n", t.Title)
			}
		}
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("🎶 Queue").
		SetDescription(b.String()).
		SetColor(0x1DB954).
		Build()

	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetEmbeds(embed).
		Build())
}
