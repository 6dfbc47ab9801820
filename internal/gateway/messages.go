package gateway

import "time"

// Command is published to a controller's command topic.
type Command struct {
	ID       string    `json:"id"`
	PlantID  string    `json:"plant_id"`
	Amount   float64   `json:"amount"`
	IssuedAt time.Time `json:"issued_at"`
}

// Ack is a controller's answer to a Command.
type Ack struct {
	ID        string  `json:"id"`
	Success   bool    `json:"success"`
	Delivered float64 `json:"delivered,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Status is a controller's retained state.
type Status struct {
	Online    bool      `json:"online"`
	Valve     string    `json:"valve,omitempty"`
	Firmware  string    `json:"firmware,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
