package types

// VPNConfig is handed to one participant when a call is accepted.
type VPNConfig struct {
	CallID        CallID     `json:"callId"`
	VPNServer     string     `json:"vpnServer"`
	VPNPort       int        `json:"vpnPort"`
	EncryptionKey string     `json:"encryptionKey"`
	XrayConfig    XrayConfig `json:"xrayConfig"`
}

// XrayConfig is the client-side xray-core configuration for the tunnel.
type XrayConfig struct {
	Version   string         `json:"version"`
	Log       XrayLog        `json:"log"`
	Inbounds  []XrayInbound  `json:"inbounds"`
	Outbounds []XrayOutbound `json:"outbounds"`
}

type XrayLog struct {
	LogLevel string `json:"loglevel"`
}

type XrayInbound struct {
	Port     int                `json:"port"`
	Protocol string             `json:"protocol"`
	Settings XrayInboundSetting `json:"settings"`
}

type XrayInboundSetting struct {
	Auth string `json:"auth"`
	UDP  bool   `json:"udp"`
}

type XrayOutbound struct {
	Protocol       string              `json:"protocol"`
	Settings       XrayOutboundSetting `json:"settings"`
	StreamSettings XrayStreamSettings  `json:"streamSettings"`
}

type XrayOutboundSetting struct {
	VNext []XrayVNext `json:"vnext"`
}

type XrayVNext struct {
	Address string     `json:"address"`
	Port    int        `json:"port"`
	Users   []XrayUser `json:"users"`
}

type XrayUser struct {
	ID         string `json:"id"`
	Encryption string `json:"encryption"`
	Flow       string `json:"flow"`
}

type XrayStreamSettings struct {
	Network     string          `json:"network"`
	Security    string          `json:"security"`
	WSSettings  XrayWSSettings  `json:"wsSettings"`
	TLSSettings XrayTLSSettings `json:"tlsSettings"`
}

type XrayWSSettings struct {
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
}

type XrayTLSSettings struct {
	ServerName    string `json:"serverName"`
	AllowInsecure bool   `json:"allowInsecure"`
}
