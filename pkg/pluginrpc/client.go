package pluginrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"plugkit/pkg/pluginapi"
)

// Client представляет плагин в дочернем процессе и реализует pluginapi.Plugin.
type Client struct {
	info pluginapi.Info
	enc  *json.Encoder
	dec  *json.Decoder
	w    io.Closer
	cmd  *exec.Cmd

	mu     sync.Mutex
	broken bool
	closed bool
}

// Start запускает бинарник плагина в режиме serve и проводит handshake.
func Start(ctx context.Context, path string, args ...string) (*Client, error) {
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), ModeEnv+"="+ModeServe)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pluginapi.LoadError(path, err.Error())
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, pluginapi.LoadError(path, err.Error())
	}
	if err := cmd.Start(); err != nil {
		return nil, pluginapi.LoadError(path, err.Error())
	}

	c, err := handshake(ctx, path, stdout, stdin)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	c.cmd = cmd
	return c, nil
}

// NewClient проводит handshake поверх готового соединения.
func NewClient(ctx context.Context, r io.Reader, w io.WriteCloser) (*Client, error) {
	return handshake(ctx, "conn", r, w)
}

func handshake(ctx context.Context, subject string, r io.Reader, w io.WriteCloser) (*Client, error) {
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)

	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	var hello Hello
	errCh := make(chan error, 1)
	go func() { errCh <- dec.Decode(&hello) }()

	select {
	case err := <-errCh:
		if err != nil {
			_ = w.Close()
			return nil, pluginapi.LoadError(subject, fmt.Sprintf("read plugin hello: %v", err))
		}
	case <-ctx.Done():
		_ = w.Close()
		return nil, pluginapi.LoadError(subject, "timeout waiting for plugin hello")
	}

	if hello.Error != nil {
		_ = w.Close()
		return nil, hello.Error
	}
	if !pluginapi.CompatibleAPI(hello.Info.APIVersion, pluginapi.APIVersion) {
		_ = w.Close()
		return nil, pluginapi.LoadError(subject, fmt.Sprintf("plugin %s api %q != host api %q", hello.Info.Name, hello.Info.APIVersion, pluginapi.APIVersion))
	}
	if err := enc.Encode(HostInfo{APIVersion: pluginapi.APIVersion}); err != nil {
		_ = w.Close()
		return nil, pluginapi.LoadError(subject, fmt.Sprintf("send host info: %v", err))
	}
	return &Client{info: hello.Info, enc: enc, dec: dec, w: w}, nil
}

func (c *Client) Name() string        { return c.info.Name }
func (c *Client) Version() string     { return c.info.Version }
func (c *Client) Description() string { return c.info.Description }

// Info описание, полученное при handshake.
func (c *Client) Info() pluginapi.Info { return c.info }

// Execute передает input плагину. Отмена ctx убивает процесс: после нее
// поток сообщений рассинхронизирован и клиент больше не пригоден.
func (c *Client) Execute(ctx context.Context, input string) error {
	resp, err := c.roundTrip(ctx, Request{Op: OpExecute, Input: input})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// Unload просит плагин выполнить teardown и завершает процесс.
func (c *Client) Unload() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	resp, err := c.roundTrip(ctx, Request{Op: OpUnload})
	c.shutdown()
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	return nil
}

// Release адаптер для core.Adopt.
func Release(p pluginapi.Plugin) error {
	c, ok := p.(*Client)
	if !ok {
		return pluginapi.LoadError("unload", fmt.Sprintf("handle of type %T is not a process plugin", p))
	}
	return c.Unload()
}

type result struct {
	resp Response
	err  error
}

func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken || c.closed {
		return Response{}, pluginapi.ResourceError("process", fmt.Sprintf("%s is not running", c.info.Name))
	}
	if err := c.enc.Encode(req); err != nil {
		c.broken = true
		return Response{}, pluginapi.ResourceError("process", fmt.Sprintf("send to %s: %v", c.info.Name, err))
	}

	ch := make(chan result, 1)
	go func() {
		var resp Response
		err := c.dec.Decode(&resp)
		ch <- result{resp: resp, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			c.broken = true
			return Response{}, pluginapi.ResourceError("process", fmt.Sprintf("%s decode error: %v", c.info.Name, r.err))
		}
		return r.resp, nil
	case <-ctx.Done():
		c.broken = true
		c.kill()
		return Response{}, pluginapi.ResourceError("process", fmt.Sprintf("%s: %v", c.info.Name, ctx.Err()))
	}
}

func (c *Client) kill() {
	_ = c.w.Close()
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.w.Close()
	if c.cmd == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_ = c.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		_ = c.cmd.Process.Kill()
		<-done
	}
}
