package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"
	"github.com/soypat/nina/internal/capture"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"golang.org/x/sync/errgroup"
)

type cli struct {
	FileCS   string `name:"f-cs" default:"digital_0.bin" help:"Input filename: SPI CS data."`
	FileMOSI string `name:"f-mosi" default:"digital_1.bin" help:"Input filename: SPI host data out."`
	FileMISO string `name:"f-miso" default:"digital_2.bin" help:"Input filename: SPI co-processor data out."`
	FileCLK  string `name:"f-clk" default:"digital_3.bin" help:"Input filename: SPI clock data."`
	Output   string `name:"o-cmd" short:"o" default:"commands.txt" help:"Output filename of decoded frames."`
	Timings  string `name:"o-time" help:"Output timing data to a file corresponding to output frame history line-by-line."`

	OmitRequests  bool `name:"omit-req" help:"Omit host requests in output."`
	OmitResponses bool `name:"omit-rsp" help:"Omit co-processor responses in output."`
	OmitEmpty     bool `name:"omit-empty" default:"true" negatable:"" help:"Omit chip select windows carrying no frame."`
	Collapse      bool `default:"true" negatable:"" help:"Merge consecutive identical frames."`
	Verbose       bool `short:"v" help:"Log debug information."`
}

type filter struct {
	omitRequests  bool
	omitResponses bool
	omitEmpty     bool
	collapse      bool
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("ninaanalyze"),
		kong.Description("ninaanalyze - process binary Saleae digital data files of NINA co-processor transactions."),
		kong.UsageOnError(),
	)
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if c.OmitRequests && c.OmitResponses {
		kctx.Fatalf("cannot omit both requests and responses")
	}
	start := time.Now()
	err := c.run(context.Background(), logger)
	kctx.FatalIfErrorf(err)
	logger.Info("finished", slog.Duration("elapsed", time.Since(start)))
}

func (c *cli) run(ctx context.Context, logger *slog.Logger) error {
	files, err := openDigitals(ctx, c.FileCLK, c.FileCS, c.FileMOSI, c.FileMISO)
	if err != nil {
		return err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(files[0], files[1], files[2], files[3])
	logger.Debug("scanned", slog.Int("transactions", len(txs)))
	captured := make([]capture.Tx, len(txs))
	for i, tx := range txs {
		captured[i] = capture.Tx{MOSI: tx.SDO, MISO: tx.SDI, Start: tx.StartTime()}
	}
	frames := decode(captured, filter{
		omitRequests:  c.OmitRequests,
		omitResponses: c.OmitResponses,
		omitEmpty:     c.OmitEmpty,
		collapse:      c.Collapse,
	})
	logger.Debug("decoded", slog.Int("frames", len(frames)))

	fp, err := os.Create(c.Output)
	if err != nil {
		return errors.Wrap(err, "creating output")
	}
	defer fp.Close()
	var timings io.Writer
	if c.Timings != "" {
		logger.Info("creating timings file", slog.String("file", c.Timings))
		tf, err := os.Create(c.Timings)
		if err != nil {
			return errors.Wrap(err, "creating timings")
		}
		defer tf.Close()
		timings = tf
	}
	return writeFrames(fp, timings, frames)
}

// openDigitals loads the digital capture files concurrently, preserving
// argument order in the result.
func openDigitals(ctx context.Context, filenames ...string) ([]*saleae.DigitalFile, error) {
	files := make([]*saleae.DigitalFile, len(filenames))
	group, ctx := errgroup.WithContext(ctx)
	for i := range filenames {
		i := i
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			df, err := opendigital(filenames[i])
			files[i] = df
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "opening digital file")
	}
	defer fp.Close()
	df, err := saleae.ReadDigitalFile(fp)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", filename)
	}
	return df, nil
}

func decode(txs []capture.Tx, f filter) []capture.Frame {
	var frames []capture.Frame
	for _, tx := range txs {
		frame := capture.Parse(tx)
		switch {
		case f.omitEmpty && frame.Empty():
			continue
		case f.omitRequests && frame.Dir == capture.Request:
			continue
		case f.omitResponses && frame.Dir == capture.Response:
			continue
		}
		frames = append(frames, frame)
	}
	if f.collapse {
		frames = capture.Collapse(frames)
	}
	return frames
}

func writeFrames(w, timings io.Writer, frames []capture.Frame) error {
	const fmtMsg = "x%-3d %s\n"
	for i := range frames {
		_, err := fmt.Fprintf(w, fmtMsg, frames[i].Num, frames[i].String())
		if err != nil {
			return err
		}
		if timings != nil {
			_, err = fmt.Fprintf(timings, "t=%f\tdata=%#x\n", frames[i].Start, frames[i].Raw)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
