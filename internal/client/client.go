// Package client implements the interactive chat client: one connection,
// a send path driven by local input and a receive path driven by server
// frames, each able to make progress without the other.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mdolezal/chatwire/internal/wire"
)

// QuitCommand terminates the client locally, without a server round trip.
const QuitCommand = "/quit"

// Client runs the two halves of a chat connection.
type Client struct {
	conn     net.Conn
	username string
	input    io.Reader
	output   io.Writer
	log      logrus.FieldLogger
}

// New wraps an established, already-authenticated connection. The username
// handshake frame must be sent by the caller before Run.
func New(conn net.Conn, username string, input io.Reader, output io.Writer, log logrus.FieldLogger) *Client {
	return &Client{
		conn:     conn,
		username: username,
		input:    input,
		output:   output,
		log:      log,
	}
}

// Dial connects to addr and performs the username handshake.
func Dial(addr, username string, input io.Reader, output io.Writer, log logrus.FieldLogger) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect to %s: %w", addr, err)
	}
	if err := wire.Write(conn, username); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client: username handshake: %w", err)
	}
	return New(conn, username, input, output, log), nil
}

// Run starts the send and receive paths and blocks until both finish: the
// user quits, the input ends, or the server closes the connection. The
// connection is always closed on return.
func (c *Client) Run() error {
	c.log.WithField("user", c.username).Debug("client loop started")

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- c.receiveLoop()
		// Unblock the send path's next write; local input itself cannot be
		// interrupted, so the user notices on their next line at the latest.
		c.conn.Close()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- c.sendLoop()
		c.conn.Close()
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// sendLoop forwards each input line as one frame. The quit command closes
// the connection and exits locally.
func (c *Client) sendLoop() error {
	scanner := bufio.NewScanner(c.input)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.EqualFold(strings.TrimSpace(line), QuitCommand) {
			fmt.Fprintln(c.output, "You have left the chat.")
			return nil
		}
		if line == "" {
			continue
		}
		if err := wire.Write(c.conn, line); err != nil {
			if isClosedConn(err) {
				return nil
			}
			return fmt.Errorf("client: send: %w", err)
		}
	}
	return scanner.Err()
}

// receiveLoop renders every inbound frame until the connection closes or
// decoding fails.
func (c *Client) receiveLoop() error {
	dec := wire.NewDecoder(c.conn)
	for {
		payload, err := dec.Next()
		if err != nil {
			if err == io.EOF || isClosedConn(err) {
				return nil
			}
			var fe *wire.FrameError
			if errors.As(err, &fe) {
				c.log.WithError(fe).Warn("server sent a malformed frame")
				return fe
			}
			return fmt.Errorf("client: receive: %w", err)
		}
		fmt.Fprintln(c.output, strings.TrimRight(payload, "\n"))
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
