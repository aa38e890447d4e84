package pluginrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"plugkit/pkg/pluginapi"
)

// Serve обслуживает host по stdio, если PLUGKIT_MODE=serve; иначе сразу
// возвращает nil. create и unload это сгенерированные CreatePlugin и UnloadPlugin.
func Serve(create pluginapi.CreateFunc, unload pluginapi.UnloadFunc) error {
	if os.Getenv(ModeEnv) != ModeServe {
		return nil
	}
	return ServeConn(context.Background(), os.Stdin, os.Stdout, create, unload)
}

// ServeConn выполняет протокол поверх r/w: создает плагин, проводит
// handshake и обрабатывает запросы до unload или закрытия r.
// Teardown выполняется ровно один раз при любом исходе после создания.
func ServeConn(ctx context.Context, r io.Reader, w io.Writer, create pluginapi.CreateFunc, unload pluginapi.UnloadFunc) error {
	enc := json.NewEncoder(w)
	dec := json.NewDecoder(r)

	p, err := create()
	if err == nil && p == nil {
		err = pluginapi.LoadError(pluginapi.CreateSymbol, "returned nil plugin")
	}
	if err != nil {
		pe := toError(pluginapi.KindLoad, pluginapi.CreateSymbol, err)
		if encErr := enc.Encode(Hello{Error: pe}); encErr != nil {
			return fmt.Errorf("pluginrpc: send hello: %w", encErr)
		}
		return pe
	}

	teardown := func() error { return unload(p) }

	if err := enc.Encode(Hello{Info: pluginapi.Describe(p)}); err != nil {
		_ = teardown()
		return fmt.Errorf("pluginrpc: handshake send failed: %w", err)
	}
	var h HostInfo
	if err := dec.Decode(&h); err != nil {
		_ = teardown()
		return fmt.Errorf("pluginrpc: handshake recv failed: %w", err)
	}
	if !pluginapi.CompatibleAPI(h.APIVersion, pluginapi.APIVersion) {
		_ = teardown()
		return pluginapi.LoadError(p.Name(), fmt.Sprintf("host api %q is incompatible with plugin api %q", h.APIVersion, pluginapi.APIVersion))
	}

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			_ = teardown()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("pluginrpc: failed to decode request: %w", err)
		}

		var resp Response
		switch req.Op {
		case OpExecute:
			resp.Error = toError(pluginapi.KindExecution, p.Name(), safeExecute(ctx, p, req.Input))
		case OpUnload:
			resp.Error = toError(pluginapi.KindResource, p.Name(), teardown())
			if err := enc.Encode(&resp); err != nil {
				return fmt.Errorf("pluginrpc: failed to encode response: %w", err)
			}
			return nil
		default:
			resp.Error = pluginapi.CommandError(req.Op, "unknown operation")
		}

		if err := enc.Encode(&resp); err != nil {
			_ = teardown()
			return fmt.Errorf("pluginrpc: failed to encode response: %w", err)
		}
	}
}

func safeExecute(ctx context.Context, p pluginapi.Plugin, input string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pluginapi.ExecutionError(p.Name(), fmt.Sprintf("panic: %v", r))
		}
	}()
	return p.Execute(ctx, input)
}

func toError(kind pluginapi.Kind, subject string, err error) *pluginapi.Error {
	if err == nil {
		return nil
	}
	var pe *pluginapi.Error
	if errors.As(pluginapi.Translate(kind, subject, err), &pe) {
		return pe
	}
	return nil
}
