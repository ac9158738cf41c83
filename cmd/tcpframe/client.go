package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"tcpframe/internal/config"
	"tcpframe/internal/journal"
	"tcpframe/internal/wire"
)

var errNotAcked = errors.New("server did not acknowledge the message")

func sendCmd(c *cli.Context) error {
	cfg, err := loadConfig(c, nil)
	if err != nil {
		return err
	}

	var payload []byte
	if path := c.String("file"); path != "" {
		payload, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
	} else {
		payload = []byte(strings.Join(c.Args().Slice(), " "))
	}

	h, err := wire.Dial(c.String("addr"), c.Duration("dial-timeout"))
	if err != nil {
		return err
	}
	defer h.Close()

	ch := newClientChannel(h, cfg.Channel)
	start := time.Now()
	if err := ch.SendBytes(payload); err != nil {
		return fmt.Errorf("sending: %w", err)
	}
	clog.Debug("sent", "addr", c.String("addr"), "bytes", len(payload))

	if c.Bool("ack") {
		ok, err := ch.ReceiveAck()
		if err != nil {
			return fmt.Errorf("awaiting ack: %w", err)
		}
		if !ok {
			return errNotAcked
		}
		fmt.Printf("ACK (%s)\n", time.Since(start).Round(time.Millisecond))
		return nil
	}

	reply, err := ch.ReceiveBytes()
	if err != nil {
		return fmt.Errorf("awaiting reply: %w", err)
	}
	if c.String("file") != "" {
		fmt.Printf("%d bytes sent, %d bytes back, match=%t (%s)\n",
			len(payload), len(reply), bytes.Equal(payload, reply), time.Since(start).Round(time.Millisecond))
		return nil
	}
	fmt.Println(string(reply))
	return nil
}

func newClientChannel(conn wire.Conn, cc config.ChannelConfig) *wire.Channel {
	return wire.New(conn, wire.WithOptions(cc.Options()))
}

func journalCmd(c *cli.Context) error {
	cfg, err := loadConfig(c, func(cfg *config.Config) {
		if v := c.String("data-dir"); v != "" {
			cfg.Journal.DataDir = v
		}
	})
	if err != nil {
		return err
	}

	st, err := openStore(cfg.Journal.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	// retain 0: listing never prunes
	j := journal.Open(st, 0)
	recs, err := j.Recent(c.Int("limit"))
	if err != nil {
		return err
	}
	totals, err := j.Totals()
	if err != nil {
		return err
	}
	return printJournal(os.Stdout, recs, totals)
}

func printJournal(w io.Writer, recs []journal.Record, totals journal.Totals) error {
	fmt.Fprintf(w, "Connections: %d served, %d failed\n", totals.Connections, totals.Failures)
	if len(recs) == 0 {
		fmt.Fprintln(w, "Journal: (empty)")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSESSION\tREMOTE\tDURATION\tIN\tOUT\tKIND\tERROR")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.Started.Local().Format(time.DateTime), shortID(r.Session), r.Remote,
			r.Duration().Round(time.Millisecond), r.BytesIn, r.BytesOut, r.Kind, r.Error)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
