// Command rudt is a client for the rudt protocol: it dials a server,
// sends the data given on the command line (or read from stdin), and
// prints whatever the server sends back.
package main

import (
	"bufio"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gorudt/rudt/config"
	"github.com/gorudt/rudt/conn"
	"github.com/gorudt/rudt/metrics"
	"github.com/gorudt/rudt/ports"
)

// recvTimeout bounds how long the client waits for the server's reply.
const recvTimeout = 5 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Fatal("rudt exiting")
	}
}

func newRootCommand() *cobra.Command {
	var configPath, serverAddr string
	var localPort int

	cmd := &cobra.Command{
		Use:   "rudt [message]",
		Short: "Send a message to a rudt server and print its reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			var err error
			if len(args) == 1 {
				payload = []byte(args[0])
			} else {
				payload, err = io.ReadAll(bufio.NewReader(os.Stdin))
				if err != nil {
					return errors.Wrap(err, "rudt: failed to read stdin")
				}
			}
			return run(configPath, serverAddr, localPort, payload)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file (defaults are used if omitted)")
	cmd.Flags().StringVar(&serverAddr, "server", "", "server address, overriding the config file")
	cmd.Flags().IntVar(&localPort, "local-port", 0, "source port written into outgoing segments (the socket itself binds an OS-chosen port), 0 picks an ephemeral one")
	return cmd
}

func run(configPath, serverOverride string, localPortOverride int, payload []byte) error {
	cfg, err := loadClientConfig(configPath)
	if err != nil {
		return err
	}
	if serverOverride != "" {
		cfg.ServerAddr = serverOverride
	}
	if localPortOverride != 0 {
		cfg.LocalPort = localPortOverride
	}

	log := newLogger(cfg.LogLevel)

	addr, err := net.ResolveUDPAddr("udp", cfg.ServerAddr)
	if err != nil {
		return errors.Wrapf(err, "rudt: bad server address %q", cfg.ServerAddr)
	}

	localPort, err := resolveLocalPort(cfg.LocalPort)
	if err != nil {
		return errors.Wrap(err, "rudt: failed to pick a local port")
	}

	bundle := metrics.New(nil)

	log.WithField("server", addr).WithField("local_port", localPort).Info("connecting")
	client, err := conn.Dial(addr, localPort, cfg.MSS, bundle)
	if err != nil {
		return errors.Wrap(err, "rudt: handshake failed")
	}
	defer client.Close()

	if _, err := client.Send(payload); err != nil {
		return errors.Wrap(err, "rudt: send failed")
	}

	buf := make([]byte, 4096)
	n, err := client.Recv(buf, time.Now().Add(recvTimeout))
	if err != nil {
		return errors.Wrap(err, "rudt: recv failed")
	}
	os.Stdout.Write(buf[:n])
	return nil
}

// resolveLocalPort returns preferred verbatim if nonzero, otherwise picks an
// ephemeral one by probing that no local UDP socket is already bound to it.
func resolveLocalPort(preferred int) (uint16, error) {
	if preferred != 0 {
		return uint16(preferred), nil
	}
	return ports.PickEphemeral(func(port uint16) (bool, error) {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
		if err != nil {
			return false, nil // Held by someone else; try the next candidate.
		}
		conn.Close()
		return true, nil
	})
}

func loadClientConfig(path string) (*config.Client, error) {
	if path == "" {
		return &config.Client{
			ServerAddr: config.DefaultListen,
			MSS:        config.DefaultMSS,
			LogLevel:   config.DefaultLogLevel,
		}, nil
	}
	return config.LoadClient(path)
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}
