package xlog_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coilhq/ilp-plugin-bilateral/xlog"
)

func TestTerminalHandlerWritesMessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := xlog.New(xlog.NewTerminalHandler(&buf, false))

	l.Info("hello world", "foo", "bar")

	out := buf.String()
	require.Contains(t, out, "hello world")
	require.Contains(t, out, "foo=bar")
	require.Contains(t, out, "INFO")
}

func TestWithAttachesContext(t *testing.T) {
	var buf bytes.Buffer
	l := xlog.New(xlog.NewTerminalHandler(&buf, false)).With("component", "ledger")

	l.Warn("bounds rejected")

	require.Contains(t, buf.String(), "component=ledger")
}

func TestJSONHandlerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := xlog.New(xlog.JSONHandler(&buf))
	l.Error("boom")
	require.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
}

func TestRootDefaultIsSettable(t *testing.T) {
	var buf bytes.Buffer
	custom := xlog.New(xlog.NewTerminalHandler(&buf, false))
	xlog.SetDefault(custom)
	xlog.Root().Info("via root")
	require.Contains(t, buf.String(), "via root")
}
