package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/soypat/nina/internal/capture"
	"github.com/soypat/nina/wire"
)

func TestParseHexFrames(t *testing.T) {
	req, err := parseHex("0xe0 0x37 0x00 0xee")
	if err != nil {
		t.Fatal(err)
	}
	f := parseFrame(req)
	if f.Err != nil || f.Dir != capture.Request || f.Cmd != wire.CmdGetFwVersion {
		t.Fatal(f.String())
	}

	rsp, err := parseHex("e0b70105312e372e34ee")
	if err != nil {
		t.Fatal(err)
	}
	f = parseFrame(rsp)
	if f.Err != nil || f.Dir != capture.Response || f.Cmd != wire.CmdGetFwVersion {
		t.Fatal(f.String())
	}
	if len(f.Params) != 1 || string(f.Params[0]) != "1.7.4" {
		t.Errorf("params %q", f.Params)
	}

	f = parseFrame([]byte{wire.Err})
	if f.Err == nil || f.Dir != capture.Response {
		t.Error("expected error response", f.String())
	}
}

func TestParseCommands(t *testing.T) {
	cmds, err := parseCommands([]string{"get-conn-status", "0x2f", "45"})
	if err != nil {
		t.Fatal(err)
	}
	for _, cmd := range []wire.Command{wire.CmdGetConnStatus, wire.CmdGetClientStateTCP, wire.CmdGetDatabufTCP} {
		if !cmds[cmd] {
			t.Errorf("missing %s", cmd)
		}
	}
	_, err = parseCommands([]string{"not-a-command"})
	if err == nil {
		t.Error("expected error")
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, true, false)
	b, _ := parseHex("e0b70105312e372e34ee")
	f := parseFrame(b)
	f.Num = 4
	p.print(f)
	out := buf.String()
	for _, want := range []string{"x4", "rsp", wire.CmdGetFwVersion.String(), "p0=0x312e372e34", "e0 b7 01 05"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
