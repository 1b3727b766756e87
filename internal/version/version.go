// Package version хранит сведения о сборке, заполняемые через -ldflags.
package version

import "fmt"

const serviceName = "orderengine"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает хеш коммита.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

// ServiceName — имя сервиса для трейсов и логов.
func ServiceName() string { return serviceName }

// ClientID — идентификатор клиента Kafka вида orderengine-<version>.
func ClientID() string {
	return serviceName + "-" + version
}

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
