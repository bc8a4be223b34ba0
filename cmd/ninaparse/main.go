package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/soypat/nina/internal/capture"
	"github.com/soypat/nina/wire"
)

type cli struct {
	Decode decodeCmd `cmd:"" help:"Decode hex encoded frames given as arguments."`
	CSV    csvCmd    `cmd:"" name:"csv" help:"Decode frames from a logic analyzer CSV export."`

	HexDump bool `help:"Do full hex dump of frame data."`
	NoColor bool `help:"Disable styled output."`
}

type decodeCmd struct {
	Frames []string `arg:"" help:"Frames in hex. Spaces and 0x prefixes are ignored."`
}

type csvCmd struct {
	File     string   `short:"f" default:"digital.csv" help:"Path to the input file."`
	Omit     []string `help:"Omit frames of these commands. Command names or hex opcodes."`
	Collapse bool     `default:"true" negatable:"" help:"Merge consecutive identical frames."`
	ColCS    int      `default:"1" help:"CSV column of chip select."`
	ColMOSI  int      `default:"2" help:"CSV column of host data out."`
	ColMISO  int      `default:"3" help:"CSV column of co-processor data out."`
	ColCLK   int      `default:"4" help:"CSV column of clock."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("ninaparse"),
		kong.Description("ninaparse - decode NINA co-processor frames."),
		kong.UsageOnError(),
	)
	p := newPrinter(os.Stdout, c.HexDump, !c.NoColor)
	ctx.FatalIfErrorf(ctx.Run(p))
}

func (c *decodeCmd) Run(p *printer) error {
	for i, s := range c.Frames {
		b, err := parseHex(s)
		if err != nil {
			return errors.Wrapf(err, "frame %d", i+1)
		}
		p.print(parseFrame(b))
	}
	return nil
}

func (c *csvCmd) Run(p *printer) error {
	omit, err := parseCommands(c.Omit)
	if err != nil {
		return err
	}
	fp, err := os.Open(c.File)
	if err != nil {
		return errors.Wrap(err, "opening capture")
	}
	defer fp.Close()
	txs, err := capture.ReadCSV(fp, capture.Columns{Time: 0, CS: c.ColCS, MOSI: c.ColMOSI, MISO: c.ColMISO, CLK: c.ColCLK})
	if err != nil {
		return errors.Wrap(err, c.File)
	}
	var frames []capture.Frame
	for _, tx := range txs {
		f := capture.Parse(tx)
		if f.Empty() || omit[f.Cmd] {
			continue
		}
		frames = append(frames, f)
	}
	if c.Collapse {
		frames = capture.Collapse(frames)
	}
	for i := range frames {
		p.print(frames[i])
	}
	return nil
}

// parseFrame decodes a lone frame, telling requests from responses by the
// reply flag on the opcode.
func parseFrame(b []byte) capture.Frame {
	if len(b) > 1 && b[1]&wire.ReplyFlag != 0 || len(b) > 0 && b[0] == wire.Err {
		return capture.Parse(capture.Tx{MISO: b})
	}
	return capture.Parse(capture.Tx{MOSI: b})
}

func parseHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, "0x", "")
	s = strings.Join(strings.Fields(s), "")
	return hex.DecodeString(s)
}

func parseCommands(list []string) (map[wire.Command]bool, error) {
	byName := make(map[string]wire.Command)
	for op := 0; op < int(wire.ReplyFlag); op++ {
		byName[wire.Command(op).String()] = wire.Command(op)
	}
	cmds := make(map[wire.Command]bool)
	for _, s := range list {
		if cmd, ok := byName[s]; ok {
			cmds[cmd] = true
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 8)
		if err != nil {
			return nil, errors.Errorf("unknown command %q", s)
		}
		cmds[wire.Command(v)] = true
	}
	return cmds, nil
}

type printer struct {
	w       io.Writer
	hexDump bool
	req     lipgloss.Style
	rsp     lipgloss.Style
	bad     lipgloss.Style
	dim     lipgloss.Style
}

func newPrinter(w io.Writer, hexDump, color bool) *printer {
	p := &printer{
		w:       w,
		hexDump: hexDump,
		req:     lipgloss.NewStyle(),
		rsp:     lipgloss.NewStyle(),
		bad:     lipgloss.NewStyle(),
		dim:     lipgloss.NewStyle(),
	}
	if color {
		p.req = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
		p.rsp = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
		p.bad = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
		p.dim = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	}
	return p
}

func (p *printer) print(f capture.Frame) {
	style := p.req
	if f.Dir == capture.Response {
		style = p.rsp
	}
	line := style.Render(fmt.Sprintf("%s %-22s", f.Dir, f.Cmd.String()))
	if f.Num > 1 {
		line = p.dim.Render(fmt.Sprintf("x%-3d ", f.Num)) + line
	}
	for i, param := range f.Params {
		line += fmt.Sprintf(" p%d=%#x", i, param)
	}
	if f.Err != nil {
		line += " " + p.bad.Render("err="+f.Err.Error())
	}
	fmt.Fprintln(p.w, line)
	if p.hexDump && len(f.Raw) > 0 {
		fmt.Fprint(p.w, p.dim.Render(hex.Dump(f.Raw)))
	}
}
