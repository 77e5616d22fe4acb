// Package version хранит сведения о сборке, проставляемые через -ldflags:
//
//	-X github.com/vladislavdragonenkov/shopsync/internal/version.version=v1.2.0
package version

import log "github.com/sirupsen/logrus"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const serviceName = "shopsync"

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// Fields отдаёт сведения о сборке для стартового лога.
func Fields() log.Fields {
	return log.Fields{
		"version": version,
		"commit":  commit,
		"built":   date,
	}
}

// UserAgent: значение User-Agent для исходящих запросов во внешние API.
func UserAgent() string {
	return serviceName + "/" + version
}
