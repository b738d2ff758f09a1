package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of an event log record
type Level string

const (
	LevelInformation Level = "information"
	LevelWarning     Level = "warning"
	LevelError       Level = "error"
)

// ServerType selects the provider name records are written under
type ServerType string

const (
	ServerIIS        ServerType = "iis"
	ServerIISExpress ServerType = "iisexpress"
)

// ModuleVersion selects the provider name suffix
type ModuleVersion string

const (
	ModuleV1 ModuleVersion = "v1"
	ModuleV2 ModuleVersion = "v2"
)

// FileVersion is embedded in every record's third replacement field
const FileVersion = "13.1.19000.0"

// ProviderName returns the producer identity used as the Source of records,
// e.g. "IIS Express AspNetCore Module V2".
func ProviderName(server ServerType, version ModuleVersion) string {
	name := "IIS "
	if server == ServerIISExpress {
		name += "Express "
	}
	name += "AspNetCore Module"
	if version == ModuleV2 || version == "" {
		name += " V2"
	}
	return name
}

// ProcessIdField is the exact text of the replacement field that attributes a
// record to a process instance.
func ProcessIdField(pid int) string {
	return fmt.Sprintf("Process Id: %d.", pid)
}

// LogRecord is one entry of the append-only event log
type LogRecord struct {
	Id                string    `json:"id"`
	Source            string    `json:"source"`
	Level             Level     `json:"level"`
	EventId           int       `json:"event_id"`
	Message           string    `json:"message"`
	ReplacementFields []string  `json:"replacement_fields"`
	TimeGenerated     time.Time `json:"time_generated"`
}

// NewLogRecord builds a record the way the OS facility stores it: the time is
// rounded down to the whole second and the replacement fields carry the
// message, the process id and the file version.
func NewLogRecord(source string, level Level, eventId int, pid int, message string) LogRecord {
	return LogRecord{
		Id:      uuid.NewString(),
		Source:  source,
		Level:   level,
		EventId: eventId,
		Message: message,
		ReplacementFields: []string{
			message,
			ProcessIdField(pid),
			fmt.Sprintf("File Version: %s. Description: %s.", FileVersion, source),
		},
		TimeGenerated: time.Now().Truncate(time.Second),
	}
}
