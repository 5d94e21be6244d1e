// Package routeros implements the sentence-based RouterOS API used to manage
// PPPoE secrets on access servers.
package routeros

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var (
	ErrLoginFailed = errors.New("routeros_login_failed")
	ErrTrap        = errors.New("routeros_trap")
)

// Reply is one sentence returned by the device.
type Reply struct {
	Word  string
	Attrs map[string]string
}

// Client is a single API connection to a RouterOS device. It is not safe for
// concurrent use; the provisioning worker pool gives each sync its own client.
type Client struct {
	conn net.Conn
}

// Dial connects and authenticates. The deadline derived from ctx bounds the
// whole session, including subsequent commands.
func Dial(ctx context.Context, addr, username, password string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	c := &Client{conn: conn}
	if err := c.login(username, password); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) login(username, password string) error {
	replies, err := c.Run("/login", "=name="+username, "=password="+password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	for _, r := range replies {
		// Pre-6.43 challenge logins are not supported.
		if _, ok := r.Attrs["ret"]; ok && r.Word == "!done" {
			return fmt.Errorf("%w: device requires legacy challenge login", ErrLoginFailed)
		}
	}
	return nil
}

// Run sends one sentence and reads replies until !done. A !trap reply is
// returned as an ErrTrap carrying the device's message.
func (c *Client) Run(words ...string) ([]Reply, error) {
	if err := c.writeSentence(words); err != nil {
		return nil, err
	}

	var (
		replies []Reply
		trapMsg string
	)
	for {
		sentence, err := c.readSentence()
		if err != nil {
			return nil, err
		}
		if len(sentence) == 0 {
			continue
		}

		reply := Reply{Word: sentence[0], Attrs: parseAttrs(sentence[1:])}
		switch reply.Word {
		case "!done":
			replies = append(replies, reply)
			if trapMsg != "" {
				return replies, fmt.Errorf("%w: %s", ErrTrap, trapMsg)
			}
			return replies, nil
		case "!trap", "!fatal":
			if msg := reply.Attrs["message"]; msg != "" {
				trapMsg = msg
			} else {
				trapMsg = "unspecified device error"
			}
			if reply.Word == "!fatal" {
				return replies, fmt.Errorf("%w: %s", ErrTrap, trapMsg)
			}
		default:
			replies = append(replies, reply)
		}
	}
}

func parseAttrs(words []string) map[string]string {
	attrs := make(map[string]string, len(words))
	for _, w := range words {
		if !strings.HasPrefix(w, "=") {
			continue
		}
		kv := strings.SplitN(w[1:], "=", 2)
		if len(kv) == 2 {
			attrs[kv[0]] = kv[1]
		}
	}
	return attrs
}

func (c *Client) writeSentence(words []string) error {
	var buf []byte
	for _, w := range words {
		buf = append(buf, encodeLength(len(w))...)
		buf = append(buf, w...)
	}
	buf = append(buf, 0) // empty word terminates the sentence
	_, err := c.conn.Write(buf)
	return err
}

func (c *Client) readSentence() ([]string, error) {
	var words []string
	for {
		length, err := c.readLength()
		if err != nil {
			return nil, err
		}
		if length == 0 {
			return words, nil
		}
		word := make([]byte, length)
		if err := c.readFull(word); err != nil {
			return nil, err
		}
		words = append(words, string(word))
	}
}

// encodeLength implements the RouterOS variable-length word prefix.
func encodeLength(n int) []byte {
	switch {
	case n < 0x80:
		return []byte{byte(n)}
	case n < 0x4000:
		n |= 0x8000
		return []byte{byte(n >> 8), byte(n)}
	case n < 0x200000:
		n |= 0xC00000
		return []byte{byte(n >> 16), byte(n >> 8), byte(n)}
	case n < 0x10000000:
		n |= 0xE0000000
		return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	default:
		return []byte{0xF0, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

func (c *Client) readLength() (int, error) {
	b := make([]byte, 1)
	if err := c.readFull(b); err != nil {
		return 0, err
	}

	head := int(b[0])
	var (
		length int
		extra  int
	)
	switch {
	case head&0x80 == 0:
		return head, nil
	case head&0xC0 == 0x80:
		length = head & 0x3F
		extra = 1
	case head&0xE0 == 0xC0:
		length = head & 0x1F
		extra = 2
	case head&0xF0 == 0xE0:
		length = head & 0x0F
		extra = 3
	default:
		length = 0
		extra = 4
	}

	rest := make([]byte, extra)
	if err := c.readFull(rest); err != nil {
		return 0, err
	}
	for _, by := range rest {
		length = length<<8 | int(by)
	}
	return length, nil
}

func (c *Client) readFull(buf []byte) error {
	for read := 0; read < len(buf); {
		n, err := c.conn.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
	}
	return nil
}
