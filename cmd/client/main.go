// Command client joins a room as a headless participant with a synthetic
// capture device and logs what it sees until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Voice/internal/adapters/capture"
	"github.com/dkeye/Voice/internal/adapters/rtc"
	voicesignal "github.com/dkeye/Voice/internal/adapters/signal"
	"github.com/dkeye/Voice/internal/app/session"
	"github.com/dkeye/Voice/internal/config"
	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fs := pflag.NewFlagSet("client", pflag.ExitOnError)
	room := fs.StringP("room", "r", "lobby", "room to join")
	id := fs.String("id", "", "requested participant id, empty lets the relay pick one")
	cfgFile := fs.StringP("config", "c", "", "YAML config file")
	fs.String("relay", "", "relay WebSocket URL")
	fs.Bool("video", false, "also send a video track")
	fs.String("log-level", "", "log level")
	_ = fs.Parse(os.Args[1:])

	cfg, err := loadConfig(fs, *cfgFile)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, domain.RoomID(*room), domain.ParticipantID(*id)); err != nil {
		log.Error().Err(err).Msg("client stopped")
		os.Exit(1)
	}
}

func loadConfig(fs *pflag.FlagSet, file string) (*config.Config, error) {
	v := config.New()
	for key, flag := range map[string]string{"relay_url": "relay", "video": "video", "log_level": "log-level"} {
		if f := fs.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return config.FromViper(v)
}

func run(ctx context.Context, cfg *config.Config, room domain.RoomID, id domain.ParticipantID) error {
	factory, err := rtc.NewFactory(rtc.Options{ICEServers: cfg.ICEServers, LogLevel: zerolog.WarnLevel})
	if err != nil {
		return err
	}

	coord := session.New(session.Options{
		Endpoint:    cfg.RelayURL,
		Constraints: core.Constraints{Audio: cfg.Audio, Video: cfg.Video},
		JoinTimeout: cfg.JoinTimeout,
		MaxReoffers: cfg.MaxReoffers,
		Device:      capture.NewSyntheticDevice("client"),
		NewSignal: func() core.SignalChannel {
			return voicesignal.NewChannel(voicesignal.ClientOptions{
				ReadLimit:  cfg.ReadLimit,
				PingPeriod: cfg.PingPeriod,
				SendBuffer: cfg.SendBuffer,
			})
		},
		NewTransport: factory.New,
	})

	if err := coord.Join(ctx, room, id); err != nil {
		var de *core.DeviceError
		if errors.As(err, &de) {
			return fmt.Errorf("local media: %w", err)
		}
		return err
	}
	defer coord.Leave()
	log.Info().Str("room", string(room)).Str("self", string(coord.SelfID())).Msg("joined")

	roster, stopRoster := coord.Participants().Subscribe()
	defer stopRoster()
	connected, stopConnected := coord.Connected().Subscribe()
	defer stopConnected()

	watching := make(map[domain.ParticipantID]func())
	defer func() {
		for _, stop := range watching {
			stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("leaving")
			return nil
		case up := <-connected:
			if !up {
				return errors.New("relay connection lost")
			}
		case ids := <-roster:
			log.Info().Int("count", len(ids)).Interface("participants", ids).Msg("roster")
			watching = watchStreams(coord, ids, watching)
		}
	}
}

// watchStreams logs stream changes of every participant in ids and stops
// watching those that left.
func watchStreams(coord *session.Coordinator, ids []domain.ParticipantID, watching map[domain.ParticipantID]func()) map[domain.ParticipantID]func() {
	next := make(map[domain.ParticipantID]func(), len(ids))
	for _, id := range ids {
		if stop, ok := watching[id]; ok {
			next[id] = stop
			delete(watching, id)
			continue
		}
		ch, stop := coord.RemoteStream(id).Subscribe()
		next[id] = stop
		go func(id domain.ParticipantID) {
			for rs := range ch {
				if rs == nil {
					log.Info().Str("participant", string(id)).Msg("no stream")
					continue
				}
				for _, t := range rs.Tracks {
					log.Info().Str("participant", string(id)).Str("kind", t.Kind().String()).Str("track", t.ID()).Msg("remote track")
				}
			}
		}(id)
	}
	for _, stop := range watching {
		stop()
	}
	return next
}
