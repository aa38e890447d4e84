// Package pluginrpc переносит контракт pluginapi через границу процесса:
// плагин запускается дочерним процессом и обменивается с host
// JSON-сообщениями по stdin/stdout.
//
// Порядок обмена:
//
//	plugin -> host: Hello (Info или ошибка загрузки)
//	host -> plugin: HostInfo (major версии API должны совпадать)
//	host -> plugin: Request{op: "execute"|"unload"}, plugin -> host: Response
//
// После unload плагин выполняет teardown, отвечает и завершает цикл.
//
// Плагин:
//
//	func main() {
//		if err := pluginrpc.Serve(CreatePlugin, UnloadPlugin); err != nil {
//			os.Exit(1)
//		}
//	}
package pluginrpc

import (
	"time"

	"plugkit/pkg/pluginapi"
)

// ModeEnv включает режим обслуживания в бинарнике плагина.
const (
	ModeEnv   = "PLUGKIT_MODE"
	ModeServe = "serve"
)

// Операции запроса.
const (
	OpExecute = "execute"
	OpUnload  = "unload"
)

const (
	handshakeTimeout = 3 * time.Second
	shutdownTimeout  = time.Second
)

// Hello первое сообщение плагина. При неудачной загрузке Info пуст, а Error задан.
type Hello struct {
	Info  pluginapi.Info   `json:"info"`
	Error *pluginapi.Error `json:"error,omitempty"`
}

// HostInfo ответ host на Hello.
type HostInfo struct {
	APIVersion string `json:"api_version"`
}

// Request вызов операции плагина.
type Request struct {
	Op    string `json:"op"`
	Input string `json:"input,omitempty"`
}

// Response результат операции; Error равен nil при успехе.
type Response struct {
	Error *pluginapi.Error `json:"error,omitempty"`
}
