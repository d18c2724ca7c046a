package journal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warnf("warned")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[I] shown 2\n")
	assert.Contains(t, buf.String(), "[W] warned\n")

	buf.Reset()
	l.SetLevel(Debug)
	l.Debugf("now visible")
	assert.Equal(t, "[D] now visible\n", buf.String())

	buf.Reset()
	l.SetLevel(Error)
	l.Warnf("dropped")
	l.Errorf("kept")
	assert.Equal(t, "[E] kept\n", buf.String())
}

func TestLoggerPrefixSharesSink(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	child := l.WithPrefix("rank 1/2:")
	child.Infof("hello")
	assert.Equal(t, "[I] rank 1/2: hello\n", buf.String())

	// Level changes on the parent apply to children
	l.SetLevel(Warn)
	child.Infof("quiet")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": Debug, "INFO": Info, "": Info, "warning": Warn, "Error": Error,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
