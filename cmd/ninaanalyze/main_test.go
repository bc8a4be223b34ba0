package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soypat/nina/internal/capture"
	"github.com/soypat/nina/wire"
)

func TestDecodeFilter(t *testing.T) {
	req, _ := wire.Encode(nil, wire.CmdGetConnStatus, wire.Len8)
	rsp, _ := wire.Encode(nil, wire.CmdGetConnStatus, wire.Len8, []byte{3})
	rsp[1] = wire.CmdGetConnStatus.Reply()
	fill := bytes.Repeat([]byte{0xff}, len(rsp))
	var txs []capture.Tx
	for i := 0; i < 3; i++ {
		txs = append(txs,
			capture.Tx{MOSI: []byte{0xff}, MISO: []byte{0xff}},
			capture.Tx{MOSI: req, MISO: fill},
			capture.Tx{MOSI: fill, MISO: rsp},
		)
	}

	frames := decode(txs, filter{omitEmpty: true})
	if len(frames) != 6 {
		t.Fatalf("got %d frames, want 6", len(frames))
	}
	frames = decode(txs, filter{})
	if len(frames) != 9 {
		t.Fatalf("got %d frames, want 9", len(frames))
	}
	frames = decode(txs, filter{omitEmpty: true, omitRequests: true, collapse: true})
	if len(frames) != 1 || frames[0].Num != 3 || frames[0].Dir != capture.Response {
		t.Fatalf("unexpected collapsed frames %v", frames)
	}

	var out, timings bytes.Buffer
	err := writeFrames(&out, &timings, frames)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "x3") || !strings.Contains(out.String(), "p0=0x03") {
		t.Error(out.String())
	}
	if !strings.HasPrefix(timings.String(), "t=") {
		t.Error(timings.String())
	}
}

func TestOpenDigitalsMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := openDigitals(context.Background(), filepath.Join(dir, "a.bin"), filepath.Join(dir, "b.bin"))
	if err == nil {
		t.Fatal("expected error for missing files")
	}
}
