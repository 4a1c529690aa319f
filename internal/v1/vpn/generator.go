// Package vpn builds the per-participant tunnel configuration handed out when a call is accepted.
package vpn

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/callerr"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	xrayVersion   = "1.0.0"
	socksPort     = 10808
	keyLen        = 32
	saltLen       = 16
	masterKeyLen  = 32
	xrayLogLevel  = "warning"
	vlessProtocol = "vless"
)

// vlessNamespace scopes the VLESS user ids derived for call participants.
var vlessNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:messenger:call:vless"))

// Generator derives VPN configs for call participants.
type Generator struct {
	server string
	port   int
	master []byte
	random io.Reader
}

// Option configures a Generator.
type Option func(*Generator)

// WithRandom replaces crypto/rand as the entropy source.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.random = r }
}

// New creates a Generator pointing participants at server:port.
func New(server string, port int, opts ...Option) (*Generator, error) {
	g := &Generator{
		server: server,
		port:   port,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.master = make([]byte, masterKeyLen)
	if _, err := io.ReadFull(g.random, g.master); err != nil {
		return nil, fmt.Errorf("failed to seed vpn key material: %w", err)
	}
	return g, nil
}

// Generate returns the config for userID in callID. Both sides dial the same relay,
// so the initiator flag does not change the layout. The key is fresh on every
// call; the VLESS user id is stable for the (user, call) pair.
func (g *Generator) Generate(callID types.CallID, userID types.UserID, _ bool) (*types.VPNConfig, error) {
	key, err := g.encryptionKey(callID, userID)
	if err != nil {
		return nil, callerr.Internal(err)
	}

	cfg := &types.VPNConfig{
		CallID:        callID,
		VPNServer:     g.server,
		VPNPort:       g.port,
		EncryptionKey: key,
		XrayConfig: types.XrayConfig{
			Version: xrayVersion,
			Log:     types.XrayLog{LogLevel: xrayLogLevel},
			Inbounds: []types.XrayInbound{{
				Port:     socksPort,
				Protocol: "socks",
				Settings: types.XrayInboundSetting{Auth: "noauth", UDP: true},
			}},
			Outbounds: []types.XrayOutbound{{
				Protocol: vlessProtocol,
				Settings: types.XrayOutboundSetting{
					VNext: []types.XrayVNext{{
						Address: g.server,
						Port:    g.port,
						Users: []types.XrayUser{{
							ID:         UserUUID(callID, userID),
							Encryption: "none",
							Flow:       "",
						}},
					}},
				},
				StreamSettings: types.XrayStreamSettings{
					Network:  "ws",
					Security: "tls",
					WSSettings: types.XrayWSSettings{
						Path:    "/call/" + string(callID),
						Headers: map[string]string{"Host": g.server},
					},
					TLSSettings: types.XrayTLSSettings{
						ServerName:    g.server,
						AllowInsecure: false,
					},
				},
			}},
		},
	}
	return cfg, nil
}

// Validate checks that cfg carries what a client needs to dial the tunnel.
func (g *Generator) Validate(cfg *types.VPNConfig) error {
	switch {
	case cfg == nil:
		return callerr.Internal(fmt.Errorf("vpn config is nil"))
	case cfg.CallID == "":
		return callerr.Internal(fmt.Errorf("vpn config has no call id"))
	case cfg.VPNServer == "":
		return callerr.Internal(fmt.Errorf("vpn config has no server"))
	case cfg.EncryptionKey == "":
		return callerr.Internal(fmt.Errorf("vpn config has no encryption key"))
	case len(cfg.XrayConfig.Outbounds) == 0:
		return callerr.Internal(fmt.Errorf("vpn config has no outbounds"))
	}
	return nil
}

// UserUUID is the VLESS user id for userID within callID.
func UserUUID(callID types.CallID, userID types.UserID) string {
	return uuid.NewSHA1(vlessNamespace, []byte(string(userID)+":"+string(callID))).String()
}

func (g *Generator) encryptionKey(callID types.CallID, userID types.UserID) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(g.random, salt); err != nil {
		return "", fmt.Errorf("failed to read salt: %w", err)
	}

	info := []byte(string(callID) + ":" + string(userID))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, g.master, salt, info), key); err != nil {
		return "", fmt.Errorf("failed to derive key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
