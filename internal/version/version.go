// Package version хранит данные сборки, проставляемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/storefront/internal/version.version=v1.0.0"
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// UserAgent формирует заголовок для исходящих запросов к платёжному шлюзу.
func UserAgent() string {
	return "storefront/" + version
}

// Fields — данные сборки в виде полей лога.
func Fields() map[string]any {
	return map[string]any{
		"version": version,
		"commit":  commit,
		"date":    date,
	}
}

// String печатается командой storefront -version.
func String() string {
	return fmt.Sprintf("storefront %s (commit %s, built %s)", version, commit, date)
}
