package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/kyson/hostbridge/internal/env"
)

// RuntimeState is written by the daemon so the CLI can find it.
type RuntimeState struct {
	PID       int       `json:"pid"`
	Socket    string    `json:"socket,omitempty"`
	Websocket string    `json:"websocket,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Actions   int       `json:"actions"`
}

func GetStatePath() string {
	return env.Get().StateFile
}

func SaveState(s *RuntimeState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(GetStatePath(), data, 0644)
}

func LoadState() (*RuntimeState, error) {
	data, err := os.ReadFile(GetStatePath())
	if err != nil {
		return nil, err
	}
	var s RuntimeState
	err = json.Unmarshal(data, &s)
	return &s, err
}

// ClearState removes the state file on shutdown.
func ClearState() error {
	err := os.Remove(GetStatePath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
