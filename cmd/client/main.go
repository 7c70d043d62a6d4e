package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/Wyydra/meshcall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/meshcall/internal/adapter/driven/media/device"
	pionmedia "github.com/Wyydra/meshcall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/meshcall/internal/adapter/driven/media/synthetic"
	"github.com/Wyydra/meshcall/internal/adapter/driven/persistence/file"
	"github.com/Wyydra/meshcall/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/meshcall/internal/adapter/driven/persistence/redis"
	"github.com/Wyydra/meshcall/internal/adapter/driven/persistence/sqlite"
	"github.com/Wyydra/meshcall/internal/config"
	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/Wyydra/meshcall/internal/core/service"
	"github.com/Wyydra/meshcall/internal/logging"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		kind         = flag.String("kind", "group", "call kind: group or direct")
		group        = flag.String("group", "", "group id (group calls)")
		conversation = flag.String("conversation", "", "conversation id (direct calls)")
		callID       = flag.String("call", "", "call id, generated when empty")
		title        = flag.String("title", "", "call title")
		noAudio      = flag.Bool("no-audio", false, "join without microphone")
		noVideo      = flag.Bool("no-video", false, "join without camera")
		rejoin       = flag.Bool("rejoin", false, "rejoin the stored session instead of the flags above")
	)
	flag.Parse()

	cfg := config.Load()
	l := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.Client.UserID == "" {
		l.Fatal().Msg("USER_ID is required")
	}

	ctx := context.Background()

	repo, closeRepo, err := snapshotRepository(ctx, cfg)
	if err != nil {
		l.Fatal().Err(err).Str("backend", cfg.Client.SnapshotBackend).Msg("Failed to open snapshot store")
	}
	defer closeRepo()

	source, err := mediaSource(cfg.Client)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to open media source")
	}

	transport, err := pionmedia.NewTransport([]webrtc.ICEServer{{
		URLs:       cfg.Client.ICEServers,
		Username:   cfg.Client.ICEUsername,
		Credential: cfg.Client.ICECredential,
	}})
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to create media transport")
	}

	self := domain.UserID(cfg.Client.UserID)
	coordinator := service.NewCallCoordinator(
		self,
		service.NewMediaNegotiator(source),
		service.NewSnapshotStore(repo),
		service.NewParticipantDirectory(self),
		service.NewPeerLinkManager(self, transport, cfg.Client.ReconnectBackoff, nil),
		cfg.Client.JoinTimeout,
	)

	relayURL, header, err := relayEndpoint(cfg.Client)
	if err != nil {
		l.Fatal().Err(err).Msg("Invalid relay URL")
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	relay, err := ws.Dial(dialCtx, relayURL, header)
	cancel()
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to connect to relay")
	}
	defer relay.Close()
	coordinator.AttachRelay(relay)

	coordinator.SubscribeParticipants(func(ps []domain.Participant) {
		ev := log.Info().Int("count", len(ps))
		for _, p := range ps {
			ev = ev.Str(p.UserID.String(), fmt.Sprintf("audio=%t video=%t", p.AudioEnabled, p.VideoEnabled))
		}
		ev.Msg("Participants updated")
	})
	coordinator.SubscribeStreams(func(u service.StreamUpdate) {
		if u.Stream == nil {
			log.Info().Str("user_id", u.UserID.String()).Msg("Remote stream gone")
			return
		}
		log.Info().Str("user_id", u.UserID.String()).Str("stream_id", u.Stream.ID()).Interface("kinds", u.Stream.Kinds()).Msg("Remote stream available")
	})
	coordinator.SubscribeMediaState(func(s domain.MediaDeviceState) {
		log.Info().
			Bool("has_audio", s.HasAudio).
			Bool("has_video", s.HasVideo).
			Bool("audio", s.AudioEnabled).
			Bool("video", s.VideoEnabled).
			Msg("Local media state")
	})

	callCfg := domain.CallConfig{
		CallID:         domain.CallID(*callID),
		Kind:           domain.CallKind(*kind),
		GroupID:        *group,
		ConversationID: *conversation,
	}
	if callCfg.CallID == "" {
		callCfg.CallID = domain.NewCallID()
	}
	opts := domain.JoinOptions{Title: *title}
	if *noAudio {
		opts.Audio = new(bool)
	}
	if *noVideo {
		opts.Video = new(bool)
	}

	stored, err := coordinator.StoredSession(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("Reading stored session failed")
	}
	if stored != nil {
		age := time.Since(time.UnixMilli(stored.Timestamp)).Round(time.Second)
		l.Info().Str("call_id", stored.Config.CallID.String()).Str("title", stored.Title).Dur("age", age).Msg("Found an unfinished call, run with -rejoin to return to it")
		if *rejoin {
			callCfg = stored.Config
			opts.Title = stored.Title
		}
	} else if *rejoin {
		l.Warn().Msg("No stored session to rejoin")
	}

	result, err := coordinator.Join(ctx, callCfg, opts)
	if err != nil {
		var devErr *domain.DeviceUnavailableError
		switch {
		case errors.As(err, &devErr):
			l.Fatal().Err(err).Interface("missing", devErr.Kinds).Msg("Cannot join without a capture device")
		case errors.Is(err, domain.ErrJoinRejected):
			l.Fatal().Err(err).Msg("Relay rejected the call")
		default:
			l.Fatal().Err(err).Msg("Join failed")
		}
	}
	l.Info().
		Str("call_id", callCfg.CallID.String()).
		Int("participants", len(result.Participants)).
		Bool("audio", result.Media.HasAudio).
		Bool("video", result.Media.HasVideo).
		Msg("In call, press Ctrl+C to leave")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case <-relay.Done():
		l.Warn().Err(relay.Err()).Msg("Relay connection closed")
	}

	leaveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := coordinator.Leave(leaveCtx); err != nil {
		l.Warn().Err(err).Msg("Leave was not acknowledged by the relay")
	}
	coordinator.DetachRelay()
	l.Info().Msg("Client exited")
}

func relayEndpoint(cfg config.ClientConfig) (string, http.Header, error) {
	u, err := url.Parse(cfg.RelayURL)
	if err != nil {
		return "", nil, err
	}
	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
		return u.String(), header, nil
	}
	q := u.Query()
	q.Set("user_id", cfg.UserID)
	if cfg.Name != "" {
		q.Set("name", cfg.Name)
	}
	u.RawQuery = q.Encode()
	return u.String(), header, nil
}

func mediaSource(cfg config.ClientConfig) (port.MediaSource, error) {
	switch cfg.MediaSource {
	case "device":
		return device.NewSource()
	case "synthetic":
		return synthetic.NewSource(
			slices.Contains(cfg.SyntheticDevices, "audio"),
			slices.Contains(cfg.SyntheticDevices, "video"),
		), nil
	default:
		return nil, fmt.Errorf("unknown media source %q", cfg.MediaSource)
	}
}

func snapshotRepository(ctx context.Context, cfg *config.Config) (port.SnapshotRepository, func(), error) {
	noop := func() {}
	switch cfg.Client.SnapshotBackend {
	case "memory":
		return memory.NewSnapshotRepository(), noop, nil
	case "file":
		repo, err := file.NewSnapshotRepository(cfg.Client.SnapshotDir)
		return repo, noop, err
	case "sqlite":
		repo, err := sqlite.Open(cfg.Client.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return repo, closer(repo), nil
	case "redis":
		repo, err := redis.Connect(ctx, redis.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   "meshcall:" + cfg.Client.UserID + ":",
		})
		if err != nil {
			return nil, noop, err
		}
		return repo, closer(repo), nil
	default:
		return nil, noop, fmt.Errorf("unknown snapshot backend %q", cfg.Client.SnapshotBackend)
	}
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing snapshot store failed")
		}
	}
}
