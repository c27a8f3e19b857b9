package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/yuigahama/hibiki/home"
	"github.com/yuigahama/hibiki/proc"
	"github.com/yuigahama/hibiki/sys"
)

func main() {
	silent := flag.Bool("silent", false, "Disable all log output")
	flag.Parse()

	if *silent {
		sys.SetSilentMode(true)
	}

	// Check for and kill an old instance before taking over.
	if pidData, err := os.ReadFile(".bot.pid"); err == nil {
		if oldPid, err := strconv.Atoi(string(pidData)); err == nil && oldPid != os.Getpid() {
			if process, err := os.FindProcess(oldPid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					sys.LogInfo(sys.MsgBotKillingOld, oldPid)
					if err := process.Signal(syscall.SIGTERM); err == nil {
						for i := 0; i < 50; i++ {
							if err := process.Signal(syscall.Signal(0)); err != nil {
								break
							}
							time.Sleep(100 * time.Millisecond)
						}
						sys.LogInfo(sys.MsgBotOldTerminated)
					} else {
						sys.LogWarn(sys.MsgBotKillFail, err)
					}
				}
			}
		}
	}

	pid := os.Getpid()
	if err := os.WriteFile(".bot.pid", []byte(strconv.Itoa(pid)), 0644); err != nil {
		sys.LogWarn(sys.MsgBotPIDWriteFail, err)
	}
	defer os.Remove(".bot.pid")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	if err := run(pid, sc, *silent); err != nil {
		sys.LogFatal("%v", err)
	}
}

func run(pid int, shutdownChan <-chan os.Signal, silent bool) error {
	ctx := context.Background()

	cfg, err := sys.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := sys.InitDatabase(ctx, cfg.DatabasePath); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer sys.CloseDatabase()

	cache := proc.NewAudioCache(cfg.CacheDir, cfg.CacheMaxFiles, cfg.CacheMaxBytes, nil)
	if err := cache.Init(); err != nil {
		return fmt.Errorf("failed to initialize audio cache: %w", err)
	}

	ratings := proc.InitRatings(sys.DB)
	proc.InitVoice(cache, ratings)

	client, err := sys.CreateClient(cfg.Token)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.OpenGateway(openCtx); err != nil {
		return fmt.Errorf("failed to connect to gateway: %w", err)
	}
	defer client.Close(ctx)

	go func() {
		if err := sys.RegisterCommands(client, cfg.GuildID); err != nil {
			sys.LogError("Background command registration failed: %v", err)
		}
	}()

	sys.TriggerClientReady(ctx, client)

	sys.LogInfo("Hibiki is online! (App: %s) (PID: %d)", client.ApplicationID, pid)
	<-shutdownChan
	if !silent {
		fmt.Println()
	}
	sys.LogInfo(sys.MsgBotShutdown, "Hibiki")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	proc.GetPlayerManager().Shutdown(shutdownCtx)
	sys.TriggerShutdown(shutdownCtx)
	return nil
}
