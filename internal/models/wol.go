package models

import "time"

// WOLConfig holds Wake-on-LAN configuration for the backup server.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	Port          int           // UDP port of the magic packet, 0 means 9
	PollAddr      string        // host:port dialed until the server accepts connections
	Timeout       time.Duration // max time to wait for the server
	PollInterval  time.Duration // how often to dial PollAddr
	StabilizeWait time.Duration // wait after the server responds
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}
