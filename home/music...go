package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/yuigahama/hibiki/proc"
	"github.com/yuigahama/hibiki/sys"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "music",
		Description: "Music Player",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a song, playlist, or search query",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "URL or song name",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current song",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "resume",
				Description: "Resume playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "now",
				Description: "Show the current song",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "shuffle",
				Description: "Shuffle the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clear",
				Description: "Clear the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "volume",
				Description: "Set playback volume",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "percent",
						Description: "Volume percentage (1-200)",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "autoplay",
				Description: "Toggle autoplay",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "history",
				Description: "Forget played songs so autoplay can repeat them",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "rate",
				Description: "Rate the current song",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "rating",
						Description: "From -2 (never again) to 2 (love it), 0 clears",
						Required:    true,
						MinValue:    intPtr(-2),
						MaxValue:    intPtr(2),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "ratings",
				Description: "Show this server's top rated songs",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop playback and leave",
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}

		switch *data.SubCommandName {
		case "play":
			handleMusicPlay(event, data)
		case "skip":
			handleMusicSkip(event, data)
		case "pause":
			handleMusicPause(event, data)
		case "resume":
			handleMusicResume(event, data)
		case "now":
			handleMusicNow(event, data)
		case "queue":
			handleMusicQueue(event, data)
		case "shuffle":
			handleMusicShuffle(event, data)
		case "clear":
			handleMusicClear(event, data)
		case "volume":
			handleMusicVolume(event, data)
		case "autoplay":
			handleMusicAutoplay(event, data)
		case "history":
			handleMusicHistory(event, data)
		case "rate":
			handleMusicRate(event, data)
		case "ratings":
			handleMusicRatings(event, data)
		case "stop":
			handleMusicStop(event, data)
		}
	})

	sys.RegisterAutocompleteHandler("music", handleMusicAutocomplete)
	sys.RegisterVoiceStateUpdateHandler(func(event *events.GuildVoiceStateUpdate) {
		if vm := proc.GetPlayerManager(); vm != nil {
			vm.HandleVoiceStateUpdate(event)
		}
	})
}

func intPtr(v int) *int {
	return &v
}

// userVoiceChannel returns the channel the invoking user is currently in.
func userVoiceChannel(event *events.ApplicationCommandInteractionCreate) (snowflake.ID, bool) {
	if event.Member() == nil || event.GuildID() == nil {
		return 0, false
	}
	voiceState, ok := event.Client().Caches.VoiceState(*event.GuildID(), event.User().ID)
	if !ok || voiceState.ChannelID == nil {
		return 0, false
	}
	return *voiceState.ChannelID, true
}

// requireSession fetches the guild session, replying ephemerally when the bot
// is not connected.
func requireSession(event *events.ApplicationCommandInteractionCreate) *proc.Session {
	vm := proc.GetPlayerManager()
	if vm == nil || event.GuildID() == nil {
		return nil
	}
	sess := vm.Session(*event.GuildID())
	if sess == nil {
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().
			SetContent("Nothing is playing right now.").
			SetEphemeral(true).
			Build())
	}
	return sess
}

func replyText(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(content).
		Build())
}

func replyEphemeral(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(content).
		SetEphemeral(true).
		Build())
}
