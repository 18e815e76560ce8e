package domain

// Room is a call room handed out by the room allocation service.
type Room struct {
	ID  string `json:"roomId"`
	URL string `json:"url"`

	// Local marks a room id synthesized on this client because the
	// allocation service could not be reached. Local rooms are never
	// deleted remotely.
	Local bool `json:"-"`
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `mapstructure:"urls" json:"urls"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
}

// DefaultICEServers is used when no ICE servers are configured.
var DefaultICEServers = []ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
	{URLs: []string{"stun:stun2.l.google.com:19302"}},
}
