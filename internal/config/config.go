package config

import (
	"log"
	"time"

	units "github.com/docker/go-units"
	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8000"`
	LogPath    string `envconfig:"LOG_PATH" default:""`

	// Container runtime selection
	Runtime          string `envconfig:"RUNTIME" default:"docker"`
	DockerHost       string `envconfig:"DOCKER_HOST" default:""`
	DockerTLSCertDir string `envconfig:"DOCKER_TLS_CERT_DIR" default:""`
	K8sNamespace     string `envconfig:"K8S_NAMESPACE" default:"default"`

	// Terminal session settings
	ShellCommand            string        `envconfig:"SHELL_COMMAND" default:"/bin/bash"`
	MaxSessions             int           `envconfig:"MAX_SESSIONS" default:"100"`
	MaxSessionsPerContainer int           `envconfig:"MAX_SESSIONS_PER_CONTAINER" default:"5"`
	IdleTimeout             time.Duration `envconfig:"IDLE_TIMEOUT" default:"30m"`
	HardTimeout             time.Duration `envconfig:"HARD_TIMEOUT" default:"8h"`
	CleanupInterval         time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1m"`
	ReplayBufferSize        string        `envconfig:"REPLAY_BUFFER_SIZE" default:"1MB"`
}

// ReplayBufferBytes parses ReplayBufferSize ("512KB", "1MB", ...) into bytes.
// Returns 0 for unparsable values so callers fall back to their default.
func (s Settings) ReplayBufferBytes() int {
	n, err := units.RAMInBytes(s.ReplayBufferSize)
	if err != nil || n < 0 {
		return 0
	}
	return int(n)
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TERMGATE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
