package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/max-legrand/prise/internal/config"
	"github.com/max-legrand/prise/internal/msgpack"
	"github.com/max-legrand/prise/internal/rpc"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// attachCmd is the reference attach client (spec.md §10 item 6): it
// dials the server's socket, spawns or attaches to a session, and
// paints incoming redraw cell grids directly with ANSI escapes. This
// is a reference renderer, not the production one — a real client
// would diff frames and batch escape sequences instead of repainting
// every cell on every redraw.
func attachCmd() *cobra.Command {
	var shellArgv []string

	cmd := &cobra.Command{
		Use:   "attach [session-id]",
		Short: "Attach to a prise session (reference client)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			var sessionID uint64
			hasSessionID := false
			if len(args) == 1 {
				id, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("bad session id %q: %w", args[0], err)
				}
				sessionID, hasSessionID = id, true
			}
			return runAttach(cfg, sessionID, hasSessionID, shellArgv)
		},
	}
	cmd.Flags().StringArrayVar(&shellArgv, "argv", nil, "argv to spawn when no session id is given (default: $SHELL)")
	return cmd
}

// client is the attach client's own minimal RPC plumbing over a plain
// net.Conn — a stripped-down cousin of rpc.Session without the
// reactor, since the client side is one blocking reader goroutine plus
// synchronous writes.
type client struct {
	conn   net.Conn
	framer *msgpack.Framer
	nextID uint32
}

func dialClient(sockPath string) (*client, error) {
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, err
	}
	return &client{conn: conn, framer: msgpack.NewFramer()}, nil
}

func (c *client) call(method string, params msgpack.Value) (result, errVal msgpack.Value, err error) {
	id := c.nextID
	c.nextID++
	req := rpc.Request{MsgID: id, Method: method, Params: params}
	if _, err := c.conn.Write(msgpack.Encode(req.Encode())); err != nil {
		return msgpack.Nil, msgpack.Nil, err
	}
	for {
		v, ok, decErr := c.framer.Next()
		if decErr != nil {
			return msgpack.Nil, msgpack.Nil, decErr
		}
		if !ok {
			buf := make([]byte, 64*1024)
			n, readErr := c.conn.Read(buf)
			if readErr != nil {
				return msgpack.Nil, msgpack.Nil, readErr
			}
			c.framer.Feed(buf[:n])
			continue
		}
		msg, decErr := rpc.DecodeMessage(v)
		if decErr != nil {
			return msgpack.Nil, msgpack.Nil, decErr
		}
		resp, ok := msg.(rpc.Response)
		if !ok || resp.MsgID != id {
			// Not our response (a redraw arrived first): stash nothing,
			// just drop it here — the render loop re-reads from scratch
			// once attach completes.
			continue
		}
		return resp.Result, resp.Error, nil
	}
}

func runAttach(cfg *config.Config, sessionID uint64, hasSessionID bool, argv []string) error {
	sockPath := cfg.ResolveSocketPath()
	c, err := dialClient(sockPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", sockPath, err)
	}
	defer c.conn.Close()

	fd := int(os.Stdin.Fd())
	cols, rows := int(cfg.DefaultCols), int(cfg.DefaultRows)
	if isatty.IsTerminal(uintptr(fd)) {
		if w, h, err := term.GetSize(fd); err == nil {
			cols, rows = w, h
		}
	}

	if !hasSessionID {
		if len(argv) == 0 {
			shell := os.Getenv("SHELL")
			if shell == "" {
				shell = "/bin/sh"
			}
			argv = []string{shell}
		}
		params := msgpack.Map(
			[]msgpack.Value{msgpack.String("argv"), msgpack.String("cols"), msgpack.String("rows")},
			[]msgpack.Value{stringArray(argv), msgpack.Uint(uint64(cols)), msgpack.Uint(uint64(rows))},
		)
		result, errVal, err := c.call("spawn", params)
		if err != nil {
			return fmt.Errorf("spawn: %w", err)
		}
		if errVal.Kind != msgpack.KindNil {
			return fmt.Errorf("spawn: %s", errVal.Str)
		}
		id, ok := result.AsInt()
		if !ok {
			return fmt.Errorf("spawn: unexpected result shape")
		}
		sessionID = uint64(id)
	}

	_, errVal, err := c.call("attach", msgpack.Array([]msgpack.Value{msgpack.Uint(sessionID)}))
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	if errVal.Kind != msgpack.KindNil {
		return fmt.Errorf("attach: %s", errVal.Str)
	}

	raw := isatty.IsTerminal(uintptr(fd))
	if raw {
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if w, h, err := term.GetSize(fd); err == nil {
				c.call("resize", msgpack.Array([]msgpack.Value{msgpack.Uint(sessionID), msgpack.Uint(uint64(w)), msgpack.Uint(uint64(h))}))
			}
		}
	}()

	done := make(chan struct{})
	go readLoop(c, os.Stdout, done)
	go writeLoop(c, sessionID, os.Stdin)

	<-done
	return nil
}

// stringArray converts a []string to a msgpack string array Value.
func stringArray(ss []string) msgpack.Value {
	vals := make([]msgpack.Value, len(ss))
	for i, s := range ss {
		vals[i] = msgpack.String(s)
	}
	return msgpack.Array(vals)
}

// readLoop decodes notifications off the wire and paints redraw frames
// to out until the connection closes or the session exits.
func readLoop(c *client, out *os.File, done chan struct{}) {
	defer close(done)
	w := bufio.NewWriter(out)
	defer w.Flush()
	buf := make([]byte, 64*1024)
	for {
		v, ok, err := c.framer.Next()
		if err != nil {
			return
		}
		if !ok {
			n, err := c.conn.Read(buf)
			if err != nil {
				return
			}
			c.framer.Feed(buf[:n])
			continue
		}
		msg, err := rpc.DecodeMessage(v)
		if err != nil {
			return
		}
		notif, ok := msg.(rpc.Notification)
		if !ok {
			continue
		}
		switch notif.Method {
		case "scrollback":
			paintScrollback(w, notif.Params)
			w.Flush()
		case "redraw":
			paintFrame(w, notif.Params)
			w.Flush()
		case "pty_exited":
			return
		}
	}
}

// writeLoop forwards raw stdin bytes to the server as write() requests.
// A production client would translate key events with modifiers
// through the key() RPC instead; this reference client only exercises
// the raw byte-forwarding path.
func writeLoop(c *client, sessionID uint64, in *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			params := msgpack.Array([]msgpack.Value{msgpack.Uint(sessionID), msgpack.Binary(data)})
			if _, _, callErr := c.call("write", params); callErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// paintScrollback writes a one-time reconnect replay (scrollback lines
// plus the current grid and cursor, already valid ANSI) straight
// through — unlike paintFrame, there's no cell grid to walk here, just
// bytes the server already rendered.
func paintScrollback(w *bufio.Writer, params msgpack.Value) {
	if params.Kind != msgpack.KindArray || len(params.Array) < 2 {
		return
	}
	data := params.Array[1]
	if data.Kind != msgpack.KindBinary {
		return
	}
	w.Write(data.Bin)
}

// paintFrame renders one redraw payload (cols, rows, cells, cursor) as
// a full-screen repaint: home cursor, then per-row SGR-coded cell runs.
func paintFrame(w *bufio.Writer, frame msgpack.Value) {
	rowsVal, ok := frame.MapGet("cells")
	if !ok || rowsVal.Kind != msgpack.KindArray {
		return
	}
	fmt.Fprint(w, "\x1b[H")
	for y, rowVal := range rowsVal.Array {
		if y > 0 {
			fmt.Fprint(w, "\r\n")
		}
		paintRow(w, rowVal)
	}
	if curVal, ok := frame.MapGet("cursor"); ok {
		paintCursor(w, curVal)
	}
}

func paintRow(w *bufio.Writer, rowVal msgpack.Value) {
	if rowVal.Kind != msgpack.KindArray {
		return
	}
	var lastAttrs uint16
	first := true
	for _, cellVal := range rowVal.Array {
		ch, _ := cellVal.MapGet("ch")
		attrsVal, _ := cellVal.MapGet("attrs")
		attrs, _ := attrsVal.AsInt()
		if first || uint16(attrs) != lastAttrs {
			fmt.Fprint(w, sgrFor(uint16(attrs)))
			lastAttrs = uint16(attrs)
			first = false
		}
		if ch.Str == "" {
			w.WriteByte(' ')
		} else {
			w.WriteString(ch.Str)
		}
	}
	fmt.Fprint(w, "\x1b[0m")
}

// sgrFor renders the packAttrs bitmask (internal/vterm) as an SGR
// escape sequence. Colors are intentionally not reproduced here — a
// faithful 24-bit repaint belongs to the production renderer, not this
// reference client.
func sgrFor(attrs uint16) string {
	codes := "0"
	if attrs&(1<<0) != 0 {
		codes += ";1"
	}
	if attrs&(1<<1) != 0 {
		codes += ";2"
	}
	if attrs&(1<<2) != 0 {
		codes += ";3"
	}
	if attrs&(1<<3) != 0 {
		codes += ";4"
	}
	if attrs&(1<<4) != 0 {
		codes += ";5"
	}
	if attrs&(1<<5) != 0 {
		codes += ";7"
	}
	if attrs&(1<<6) != 0 {
		codes += ";9"
	}
	return "\x1b[" + codes + "m"
}

func paintCursor(w *bufio.Writer, cur msgpack.Value) {
	rowVal, _ := cur.MapGet("row")
	colVal, _ := cur.MapGet("col")
	row, _ := rowVal.AsInt()
	col, _ := colVal.AsInt()
	fmt.Fprintf(w, "\x1b[%d;%dH", row+1, col+1)
}
