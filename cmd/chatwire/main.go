// Command chatwire runs the chat server or the interactive chat client.
//
// With no arguments it asks which side to start, mirroring the classic
// prompt-driven flow; the server and client subcommands exist for scripts
// and service managers.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/mdolezal/chatwire/internal/auth"
	"github.com/mdolezal/chatwire/internal/chat"
	"github.com/mdolezal/chatwire/internal/client"
	"github.com/mdolezal/chatwire/internal/config"
	"github.com/mdolezal/chatwire/internal/ratelimit"
)

func main() {
	app := cli.NewApp()
	app.Name = "chatwire"
	app.Usage = "framed TCP chat server and client"
	app.Version = "1.0.0"

	configFlag := cli.StringFlag{
		Name:  "config,c",
		Usage: "Path to the host/port config file (created with defaults on first run)",
		Value: "config.yaml",
	}

	app.Commands = []cli.Command{
		{
			Name:      "server",
			ShortName: "s",
			Usage:     "Start the chat server",
			Flags: []cli.Flag{
				configFlag,
				cli.StringFlag{
					Name:  "log-file,l",
					Usage: "Also append logs to this file",
				},
				cli.BoolFlag{
					Name:  "debug,d",
					Usage: "Enable debug output",
				},
				cli.IntFlag{
					Name:  "max-conns-per-min,m",
					Usage: "Max connection attempts per IP per minute (0 = unlimited)",
				},
				cli.DurationFlag{
					Name:  "idle-timeout,t",
					Usage: "Close connections idle longer than this (0 = never)",
				},
			},
			Action: runServer,
		},
		{
			Name:      "client",
			ShortName: "c",
			Usage:     "Connect to a chat server",
			Flags: []cli.Flag{
				configFlag,
				cli.StringFlag{
					Name:  "users,u",
					Usage: "Path to the local user credential file",
					Value: "users.json",
				},
			},
			Action: runClient,
		},
	}

	// No subcommand: ask, like the original did.
	app.Action = func(c *cli.Context) error {
		choice := prompt(os.Stdin, "Start as server (s) or client (c)? ")
		switch strings.ToLower(choice) {
		case "s":
			return runServerWith("config.yaml", "", false, 0, 0)
		case "c":
			return runClientWith("config.yaml", "users.json")
		default:
			return cli.NewExitError("unknown choice, expected 's' or 'c'", 2)
		}
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(c *cli.Context) error {
	return runServerWith(
		c.String("config"),
		c.String("log-file"),
		c.Bool("debug"),
		c.Int("max-conns-per-min"),
		c.Duration("idle-timeout"),
	)
}

func runServerWith(cfgPath, logFile string, debug bool, maxPerMin int, idle time.Duration) error {
	logger := log.New()
	if debug {
		logger.SetLevel(log.DebugLevel)
	}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("open log file: %v", err), 1)
		}
		defer f.Close()
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	opts := []chat.Option{chat.WithLogger(logger)}
	if maxPerMin > 0 {
		opts = append(opts, chat.WithConnLimiter(ratelimit.NewIPLimiter(maxPerMin, time.Minute)))
	}
	if idle > 0 {
		opts = append(opts, chat.WithIdleTimeout(idle))
	}

	srv := chat.New(cfg.Addr(), opts...)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")
		srv.Shutdown()
	}()

	if err := srv.Run(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func runClient(c *cli.Context) error {
	return runClientWith(c.String("config"), c.String("users"))
}

func runClientWith(cfgPath, usersPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	store, err := credentialStore(usersPath)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	in := bufio.NewReader(os.Stdin)
	username, err := signIn(in, os.Stdout, store)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	// Reuse the buffered reader so type-ahead between the login prompts and
	// the chat loop is not lost.
	cl, err := client.Dial(cfg.Addr(), username, in, os.Stdout, log.StandardLogger())
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Printf("[CONNECTED] to %s\n", cfg.Addr())
	fmt.Printf("Welcome to the chat, %s! Type your messages below (%s to leave):\n", username, client.QuitCommand)

	if err := cl.Run(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

// credentialStore picks the Redis backend when CHATWIRE_REDIS is set,
// otherwise the local user file.
func credentialStore(usersPath string) (auth.Store, error) {
	redisAddr := os.Getenv("CHATWIRE_REDIS")
	if redisAddr == "" {
		return auth.NewFileStore(usersPath), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", redisAddr, err)
	}
	log.WithField("addr", redisAddr).Info("using redis credential store")
	return auth.NewRedisStore(rdb), nil
}

// signIn runs the register-or-login loop and returns the authenticated
// username. Authentication is purely local: the server only ever sees the
// username handshake, never a password.
func signIn(in *bufio.Reader, out io.Writer, store auth.Store) (string, error) {
	for {
		choice := strings.ToLower(promptReader(in, out, "Do you want to (R)egister or (L)ogin? "))
		switch choice {
		case "r":
			username := promptReader(in, out, "Choose a username: ")
			password := promptReader(in, out, "Choose a password: ")
			ok, err := store.Register(username, password)
			if err != nil {
				return "", err
			}
			if ok {
				fmt.Fprintln(out, "Registration successful! You can now log in.")
			} else {
				fmt.Fprintln(out, "Username already exists! Try again.")
			}
		case "l":
			username := promptReader(in, out, "Enter your username: ")
			password := promptReader(in, out, "Enter your password: ")
			ok, err := store.Authenticate(username, password)
			if err != nil {
				return "", err
			}
			if ok {
				fmt.Fprintln(out, "Login successful!")
				return username, nil
			}
			fmt.Fprintln(out, "Invalid username or password! Try again.")
		}
	}
}

func prompt(r io.Reader, text string) string {
	return promptReader(bufio.NewReader(r), os.Stdout, text)
}

func promptReader(in *bufio.Reader, out io.Writer, text string) string {
	fmt.Fprint(out, text)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}
