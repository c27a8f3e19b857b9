package sys

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
)

var commands = []discord.ApplicationCommandCreate{}
var commandHandlers = map[string]func(event *events.ApplicationCommandInteractionCreate){}
var autocompleteHandlers = map[string]func(event *events.AutocompleteInteractionCreate){}
var voiceStateUpdateHandlers []func(event *events.GuildVoiceStateUpdate)
var onClientReadyCallbacks []func(ctx context.Context, client *bot.Client)
var shutdownCallbacks []func(ctx context.Context)

// CreateClient builds the Discord client with the intents and caches the voice
// subsystem needs.
func CreateClient(token string) (*bot.Client, error) {
	return disgo.New(token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity("the queue"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagChannels, cache.FlagVoiceStates, cache.FlagMembers),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(onApplicationCommandInteraction),
		bot.WithEventListenerFunc(onAutocompleteInteraction),
		bot.WithEventListenerFunc(onVoiceStateUpdate),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 60 * time.Second,
			}),
		),
	)
}

func RegisterCommand(cmd discord.ApplicationCommandCreate, handler func(event *events.ApplicationCommandInteractionCreate)) {
	commands = append(commands, cmd)
	commandHandlers[cmd.CommandName()] = handler
}

func RegisterAutocompleteHandler(cmdName string, handler func(event *events.AutocompleteInteractionCreate)) {
	autocompleteHandlers[cmdName] = handler
}

func RegisterVoiceStateUpdateHandler(handler func(event *events.GuildVoiceStateUpdate)) {
	voiceStateUpdateHandlers = append(voiceStateUpdateHandlers, handler)
}

func OnClientReady(cb func(ctx context.Context, client *bot.Client)) {
	onClientReadyCallbacks = append(onClientReadyCallbacks, cb)
}

func TriggerClientReady(ctx context.Context, client *bot.Client) {
	for _, cb := range onClientReadyCallbacks {
		cb(ctx, client)
	}
}

// OnShutdown registers a callback invoked during graceful shutdown.
func OnShutdown(cb func(ctx context.Context)) {
	shutdownCallbacks = append(shutdownCallbacks, cb)
}

func TriggerShutdown(ctx context.Context) {
	for _, cb := range shutdownCallbacks {
		cb(ctx)
	}
}

// RegisterCommands syncs the command tree. With a guild ID set, commands are
// registered to that guild and global commands are cleared (dev mode).
func RegisterCommands(client *bot.Client, guildIDStr string) error {
	LogInfo(MsgLoaderRegistering)

	if guildIDStr != "" {
		guildID, err := snowflake.Parse(guildIDStr)
		if err != nil {
			return fmt.Errorf("invalid GUILD_ID: %w", err)
		}

		LogInfo(MsgLoaderGuildRegister, guildIDStr)
		created, err := client.Rest.SetGuildCommands(client.ApplicationID, guildID, commands)
		if err != nil {
			return fmt.Errorf("failed to register guild commands: %w", err)
		}
		for _, cmd := range created {
			LogInfo(MsgLoaderCommandRegistered, cmd.Name())
		}

		LogInfo(MsgLoaderGlobalClear)
		if _, err := client.Rest.SetGlobalCommands(client.ApplicationID, []discord.ApplicationCommandCreate{}); err != nil {
			LogWarn(MsgLoaderGlobalClearFail, err)
		} else {
			LogInfo(MsgLoaderGlobalCleared)
		}
		return nil
	}

	LogInfo(MsgLoaderRegisteringGlobal)
	created, err := client.Rest.SetGlobalCommands(client.ApplicationID, commands)
	if err != nil {
		return fmt.Errorf(MsgLoaderRegisterGlobalFail, err)
	}
	for _, cmd := range created {
		LogInfo(MsgLoaderGlobalRegistered, cmd.Name())
	}
	return nil
}

func onApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	if h, ok := commandHandlers[event.Data.CommandName()]; ok {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					LogError("Panic recovered in handler: %v", r)
				}
			}()
			h(event)
		}()
	}
}

func onAutocompleteInteraction(event *events.AutocompleteInteractionCreate) {
	if h, ok := autocompleteHandlers[event.Data.CommandName]; ok {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					LogError("Panic recovered in autocomplete: %v", r)
				}
			}()
			h(event)
		}()
	}
}

func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	for _, h := range voiceStateUpdateHandlers {
		h(event)
	}
}
