package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/oclean/internal/capture"
	"github.com/srg/oclean/internal/groutine"
	"github.com/srg/oclean/internal/poller"
	"github.com/srg/oclean/internal/protocol"
)

var captureCmd = &cobra.Command{
	Use:   "capture [address]",
	Short: "Print every raw notification of one poll cycle",
	Long: `Run one full poll cycle against a brush and print each notification as it
arrives, together with the fields decoded from it. Notifications no decoder
recognizes are listed at the end.

The cycle ignores poll windows, the cooldown and the stored history
watermark, and saves no state.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCapture,
}

var (
	captureJSON   bool
	captureBuffer uint32
	captureTags   []string
)

const captureDrainInterval = 100 * time.Millisecond

func init() {
	captureCmd.Flags().BoolVar(&captureJSON, "json", false, "Print one JSON object per notification")
	captureCmd.Flags().Uint32Var(&captureBuffer, "buffer", 1024, "Notifications kept when the printer falls behind")
	captureCmd.Flags().StringSliceVar(&captureTags, "tag", nil, "Only print notifications with these tags (e.g. 0308,5a00)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	address, err := a.resolveAddress(args)
	if err != nil {
		return err
	}
	filter, err := parseTagFilter(captureTags)
	if err != nil {
		return err
	}
	rec, err := capture.NewRecorder(captureBuffer)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	dev := poller.Device{Address: address, Name: a.cfg.Device(address).Name}
	p := poller.New(dev, a.backend, nil, nil, a.pollerOptions(), a.logger)
	p.SetNotifyHook(rec.Observe)

	out := cmd.OutOrStdout()
	printDone := make(chan struct{})
	printCtx, stopPrinter := context.WithCancel(ctx)
	groutine.Go(printCtx, "capture-printer", func(ctx context.Context) {
		defer close(printDone)
		drainLoop(ctx, rec, filter, out, captureDrainInterval)
	})

	_, pollErr := p.Poll(ctx)
	stopPrinter()
	<-printDone
	printRecords(rec, filter, out)

	for _, line := range p.Unknown() {
		fmt.Fprintf(out, "unknown %s\n", line)
	}
	recorded, overwritten, _ := rec.Stats()
	fmt.Fprintf(cmd.ErrOrStderr(), "%d notification(s) captured, %d dropped\n", recorded, overwritten)
	return pollErr
}

// drainLoop prints buffered records every interval until ctx is done.
func drainLoop(ctx context.Context, rec *capture.Recorder, filter tagFilter, out io.Writer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printRecords(rec, filter, out)
		}
	}
}

// tagFilter selects notifications by leading tag; empty matches everything.
type tagFilter map[protocol.Tag]bool

func parseTagFilter(values []string) (tagFilter, error) {
	filter := make(tagFilter, len(values))
	for _, v := range values {
		tag, err := protocol.ParseTag(v)
		if err != nil {
			return nil, err
		}
		filter[tag] = true
	}
	return filter, nil
}

func (f tagFilter) match(raw []byte) bool {
	if len(f) == 0 {
		return true
	}
	return len(raw) >= 2 && f[protocol.Tag{raw[0], raw[1]}]
}

func printRecords(rec *capture.Recorder, filter tagFilter, out io.Writer) {
	enc := json.NewEncoder(out)
	rec.Drain(func(r capture.Record) {
		if !filter.match(r.Raw) {
			return
		}
		if captureJSON {
			_ = enc.Encode(r)
			return
		}
		fmt.Fprintln(out, r.String())
	})
}
