package api

// LightCommand is the body of the light trigger endpoints.
type LightCommand struct {
	Value int `json:"Value"`
}

// DriveModeCommand is the body of the drive mode endpoint.
type DriveModeCommand struct {
	Mode string `json:"Mode"`
}

// ConnectionCommand is the body of the connection status endpoints.
type ConnectionCommand struct {
	IsConnected *bool `json:"IsConnected"`
}
