package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sourcegraph/conc"
)

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// requestDeadline bounds how long a client may take to send its command.
const requestDeadline = 2 * time.Second

// Serve accepts unix-socket clients until context cancellation or listener close.
// A panicking handler is re-raised once in-flight connections finish.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	var wg conc.WaitGroup

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Go(func() { serveConn(ctx, conn, handler) })
	}
}

// serveConn answers exactly one request on conn.
func serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	reply := func(resp Response) { _ = json.NewEncoder(conn).Encode(resp) }

	_ = conn.SetReadDeadline(time.Now().Add(requestDeadline))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		reply(Response{Error: fmt.Sprintf("read request: %v", err)})
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		reply(Response{Error: fmt.Sprintf("decode request: %v", err)})
		return
	}
	reply(handler.Handle(ctx, req))
}
