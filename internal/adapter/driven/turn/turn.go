package turn

import (
	"fmt"
	"net"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pion/turn/v3"
	"github.com/rs/zerolog/log"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"credential"`
}

type Config struct {
	Port     int
	Realm    string
	Username string
	// Password is generated when empty.
	Password string
	// PublicIP is the relay address handed to clients. Detected when empty.
	PublicIP string
}

// Server is an embedded TURN relay for participants behind symmetric NATs.
type Server struct {
	server *turn.Server
	creds  Credentials
	addr   string
}

func Start(cfg Config) (*Server, error) {
	udpListener, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create UDP listener: %w", err)
	}

	creds := Credentials{Username: cfg.Username, Password: cfg.Password}
	if creds.Username == "" {
		creds.Username = "meshcall"
	}
	if creds.Password == "" {
		creds.Password, err = gonanoid.New(24)
		if err != nil {
			udpListener.Close()
			return nil, fmt.Errorf("generate password: %w", err)
		}
	}

	relayIP := net.ParseIP(cfg.PublicIP)
	if relayIP == nil {
		relayIP = localIP()
	}

	s, err := turn.NewServer(turn.ServerConfig{
		Realm:       cfg.Realm,
		AuthHandler: authHandler(creds.Username, creds.Password),
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: relayIP,
					Address:      "0.0.0.0",
				},
			},
		},
	})
	if err != nil {
		udpListener.Close()
		return nil, fmt.Errorf("failed to create TURN server: %w", err)
	}

	port := udpListener.LocalAddr().(*net.UDPAddr).Port
	addr := net.JoinHostPort(relayIP.String(), fmt.Sprint(port))
	log.Info().Str("addr", addr).Str("realm", cfg.Realm).Str("username", creds.Username).Msg("TURN server started")

	return &Server{server: s, creds: creds, addr: addr}, nil
}

func (s *Server) Credentials() Credentials {
	return s.creds
}

// URL is the turn: URL clients should use.
func (s *Server) URL() string {
	return "turn:" + s.addr + "?transport=udp"
}

func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func authHandler(expectedUsername, expectedPassword string) turn.AuthHandler {
	return func(username string, realm string, srcAddr net.Addr) ([]byte, bool) {
		if username != expectedUsername {
			log.Debug().Str("username", username).Str("src", srcAddr.String()).Msg("TURN auth rejected")
			return nil, false
		}
		return turn.GenerateAuthKey(username, realm, expectedPassword), true
	}
}

func localIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to determine local IP")
		return net.ParseIP("127.0.0.1")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}
