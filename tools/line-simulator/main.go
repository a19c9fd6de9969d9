package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/V4T54L/hb-acquire/internal/adapter/parser"
	"github.com/V4T54L/hb-acquire/internal/domain"
)

type options struct {
	lps          float64
	sampleRate   int
	samples      int
	malformed    float64
	commentEvery int
	noFixEvery   int
	clipEvery    int
	rateChangeAt int
	count        int
}

func main() {
	var opts options
	out := pflag.StringP("out", "o", "", "write lines to this path (a file or pty); stdout if empty")
	duration := pflag.DurationP("duration", "d", 0, "stop after this long; 0 runs until interrupted")
	pflag.Float64Var(&opts.lps, "lps", 1, "data lines per second")
	pflag.IntVar(&opts.sampleRate, "sample-rate", 500, "sample rate reported by the simulated device")
	pflag.IntVar(&opts.samples, "samples", 8, "samples per data line")
	pflag.Float64Var(&opts.malformed, "malformed", 0, "fraction of data lines emitted with a bad checksum")
	pflag.IntVar(&opts.commentEvery, "comment-every", 0, "emit a '#' status line every N data lines")
	pflag.IntVar(&opts.noFixEvery, "no-fix-every", 0, "drop the gps fix on every Nth data line")
	pflag.IntVar(&opts.clipEvery, "clip-every", 0, "flag clipping on every Nth data line")
	pflag.IntVar(&opts.rateChangeAt, "rate-change-at", 0, "double the sample rate after N data lines")
	pflag.IntVarP(&opts.count, "count", "n", 0, "stop after N data lines; 0 is unlimited")
	pflag.Parse()

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.OpenFile(*out, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open output %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	log.Printf("Simulating device: %.2f lines/s, sample rate %d, %d samples per line", opts.lps, opts.sampleRate, opts.samples)
	written, err := simulate(ctx, w, opts, time.Now)
	if err != nil && ctx.Err() == nil {
		log.Fatalf("Simulation failed after %d lines: %v", written, err)
	}
	log.Printf("Simulation finished, %d lines written", written)
}

func simulate(ctx context.Context, w io.Writer, opts options, now func() time.Time) (int, error) {
	bw := bufio.NewWriter(w)
	limiter := rate.NewLimiter(rate.Limit(opts.lps), 1)

	if _, err := fmt.Fprintf(bw, "# boot %s\n", uuid.NewString()); err != nil {
		return 0, err
	}

	written := 0
	for i := 1; opts.count == 0 || i <= opts.count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return written, err
		}

		if opts.commentEvery > 0 && i%opts.commentEvery == 0 {
			if _, err := fmt.Fprintf(bw, "# status line=%d\n", i); err != nil {
				return written, err
			}
		}

		rec := nextRecord(i, opts, now())
		line := "$" + parser.Format(rec)
		if opts.malformed > 0 && rand.Float64() < opts.malformed {
			line = corrupt(line)
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return written, err
		}
		if err := bw.Flush(); err != nil {
			return written, err
		}
		written++
	}
	return written, bw.Flush()
}

func nextRecord(i int, opts options, ts time.Time) domain.Record {
	sampleRate := opts.sampleRate
	if opts.rateChangeAt > 0 && i > opts.rateChangeAt {
		sampleRate *= 2
	}
	samples := make([]int32, opts.samples)
	for j := range samples {
		samples[j] = int32(rand.IntN(4096) - 2048)
	}
	return domain.Record{
		Time:       ts.Truncate(time.Millisecond),
		SampleRate: sampleRate,
		GPSFix:     opts.noFixEvery == 0 || i%opts.noFixEvery != 0,
		Clipping:   opts.clipEvery > 0 && i%opts.clipEvery == 0,
		Samples:    samples,
	}
}

// corrupt flips the checksum so the line fails verification.
func corrupt(line string) string {
	if len(line) < 2 {
		return line
	}
	last := line[len(line)-1]
	if last == '0' {
		last = '1'
	} else {
		last = '0'
	}
	return line[:len(line)-1] + string(last)
}
