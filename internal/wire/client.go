package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/docshard/docshard/pkg/protocolbuf"
)

// dialTimeout bounds every RPC's connect+round-trip, grounded on the
// teacher's setConnDeadline/5s timeouts in controllers/migration.go.
const dialTimeout = 5 * time.Second

// Client is a hand-rolled RESP client carrying one JSON bulk-string
// argument per command and expecting one JSON bulk-string (or error)
// reply, grounded on controllers/migration.go's sendCommand/getNodeID.
type Client struct {
	addr string
}

// NewClient returns a Client that dials addr fresh for every call. The
// chunk migration core's commands are infrequent admin RPCs, not a hot
// path, so per-call dialing (as the teacher's reconciler does) is
// adequate; no connection pool is introduced.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// Call sends name with a single JSON-encoded argument (nil for commands
// that take none) and decodes the JSON reply into out.
func (c *Client) Call(ctx context.Context, name string, arg any, out any) error {
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	var argJSON []byte
	if arg != nil {
		argJSON, err = json.Marshal(arg)
		if err != nil {
			return fmt.Errorf("encode argument: %w", err)
		}
	}

	if err := writeCommand(conn, name, argJSON); err != nil {
		return fmt.Errorf("write command: %w", err)
	}

	reader := bufio.NewReader(conn)
	reply, err := readBulkOrError(reader)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply, out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// writeCommand serializes name [argJSON] as a RESP array, mirroring
// controllers/migration.go's sendCommand builder.
func writeCommand(w net.Conn, name string, argJSON []byte) error {
	parts := [][]byte{[]byte(name)}
	if argJSON != nil {
		parts = append(parts, argJSON)
	}

	b := protocolbuf.GetBuffer()
	defer protocolbuf.PutBuffer(b)

	fmt.Fprintf(b, "*%d\r\n", len(parts))
	for _, p := range parts {
		fmt.Fprintf(b, "$%d\r\n", len(p))
		b.Write(p)
		b.WriteString("\r\n")
	}

	_, err := w.Write(b.Bytes())
	return err
}

// readBulkOrError reads one RESP reply: a bulk string ("$n\r\n...\r\n")
// is returned as its payload, an error line ("-...\r\n") is returned as
// a Go error, mirroring getNodeID's line-prefix dispatch.
func readBulkOrError(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")

	switch {
	case strings.HasPrefix(line, "-"):
		return nil, fmt.Errorf("command error: %s", strings.TrimPrefix(line, "-"))
	case strings.HasPrefix(line, "$"):
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("bad bulk length %q: %w", line, err)
		}
		if n < 0 {
			return nil, nil
		}
		buf := make([]byte, n+2) // payload + trailing CRLF
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read bulk payload: %w", err)
		}
		return buf[:n], nil
	default:
		return nil, fmt.Errorf("unexpected reply: %q", line)
	}
}

// errMsg returns an error from msg, falling back to def if msg is empty.
func errMsg(msg, def string) error {
	if msg == "" {
		msg = def
	}
	return fmt.Errorf("%s", msg)
}
