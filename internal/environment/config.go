package environment

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/programme-lv/ancm/internal/xdg"
)

const appName = "ancm"

// EnvConfig holds the deployment settings that come from the environment
// rather than from the application's configuration file.
type EnvConfig struct {
	EventLogPath string
	NATSURL      string
	NATSSubject  string
	SQSQueueURL  string
	AWSRegion    string
	LogLevel     string
}

// ReadEnvConfig loads files (".env" when none are given) if they exist and
// reads the ANCM_* variables. A missing .env file is not an error.
func ReadEnvConfig(files ...string) (*EnvConfig, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	result := &EnvConfig{
		EventLogPath: os.Getenv("ANCM_EVENT_LOG"),
		NATSURL:      os.Getenv("ANCM_NATS_URL"),
		NATSSubject:  os.Getenv("ANCM_NATS_SUBJECT"),
		SQSQueueURL:  os.Getenv("ANCM_SQS_QUEUE_URL"),
		AWSRegion:    os.Getenv("AWS_REGION"),
		LogLevel:     os.Getenv("ANCM_LOG_LEVEL"),
	}

	if result.EventLogPath == "" {
		result.EventLogPath = DefaultEventLogPath()
	}
	if result.AWSRegion == "" {
		result.AWSRegion = "eu-central-1"
	}
	return result, nil
}

// DefaultEventLogPath is the shared event log under the XDG state directory
func DefaultEventLogPath() string {
	return filepath.Join(xdg.NewXDGDirs().AppStateDir(appName), "events.jsonl")
}
