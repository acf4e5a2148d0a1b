package models

import "time"

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Presence is a user's visibility in the nearby feed (Redis). LastSeen is server time.
type Presence struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	IsVisible   bool      `json:"isVisible"`
	LastSeen    time.Time `json:"lastSeen"`
	Location    *Location `json:"location,omitempty"`
}

type UpdatePresenceRequest struct {
	DisplayName string   `json:"displayName" validate:"omitempty,max=50"`
	IsVisible   *bool    `json:"isVisible" validate:"required"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,min=-90,max=90"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,min=-180,max=180"`
	Accuracy    *float64 `json:"accuracy" validate:"omitempty,min=0"`
}

// NearbyUser is a presence entry annotated with the caller's connection status, if any.
type NearbyUser struct {
	Presence
	ConnectionStatus ConnectionStatus `json:"connectionStatus,omitempty"`
	ConnectionID     string           `json:"connectionId,omitempty"`
}
