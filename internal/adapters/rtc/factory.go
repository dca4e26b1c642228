package rtc

import (
	"fmt"

	"github.com/dkeye/Voice/internal/core"
	"github.com/dkeye/Voice/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultICEServers is used when no ICE servers are configured.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

type Options struct {
	// ICEServers are STUN/TURN urls. Nil means DefaultICEServers, an empty
	// slice means host candidates only.
	ICEServers []string
	// PortMin and PortMax bound the local UDP ports, zero means any.
	PortMin, PortMax uint16
	// IncludeLoopback gathers 127.0.0.1 candidates, for same-host peers.
	IncludeLoopback bool
	// LogLevel is the minimum level of pion's own logs.
	LogLevel zerolog.Level
}

// Factory builds pion peer connections sharing one API instance.
type Factory struct {
	api  *webrtc.API
	conf webrtc.Configuration
}

func NewFactory(o Options) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: newPionLogger(log.Logger, o.LogLevel)}
	if o.PortMin > 0 && o.PortMax >= o.PortMin {
		if err := s.SetEphemeralUDPPortRange(o.PortMin, o.PortMax); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}
	s.SetIncludeLoopbackCandidate(o.IncludeLoopback)

	servers := o.ICEServers
	if servers == nil {
		servers = DefaultICEServers
	}
	conf := webrtc.Configuration{ICEServers: []webrtc.ICEServer{}}
	for _, url := range servers {
		conf.ICEServers = append(conf.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}

	return &Factory{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf: conf,
	}, nil
}

// New implements core.TransportFactory.
func (f *Factory) New(id domain.ParticipantID) (core.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.conf)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newConnection(pc, id), nil
}
