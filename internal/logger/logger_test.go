package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestPrettyFormatterSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logrus.DebugLevel)
	l.SetFormatter(&PrettyFormatter{NoColor: true})

	l.WithFields(logrus.Fields{"peer": "b", "label": "a"}).Info("channel open")

	line := buf.String()
	if !strings.Contains(line, "INFO  channel open label=a peer=b") {
		t.Errorf("Unexpected line: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("Expected trailing newline")
	}
}

func TestNewWithLevel(t *testing.T) {
	l, err := NewWithLevel("warn")
	if err != nil {
		t.Fatalf("NewWithLevel failed: %v", err)
	}
	if l.GetLevel() != logrus.WarnLevel {
		t.Errorf("Expected warn level, got %s", l.GetLevel())
	}

	if _, err := NewWithLevel("loud"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestPionFactoryDemotesInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logrus.InfoLevel)
	l.SetFormatter(&PrettyFormatter{NoColor: true})

	pl := PionFactory{Logger: l}.NewLogger("ice")
	pl.Info("gathering")
	if buf.Len() != 0 {
		t.Fatalf("Expected pion info to be hidden at info level, got %q", buf.String())
	}

	pl.Warnf("lost %d packets", 3)
	if !strings.Contains(buf.String(), "lost 3 packets scope=ice") {
		t.Errorf("Unexpected output: %q", buf.String())
	}
}
