package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"", "console", "json", "JSON"} {
		log, err := New(Config{Level: "debug", Format: format})
		require.NoError(t, err, format)
		log.Named("test").With(String("k", "v")).Debug("hello",
			Int("i", 1), Int64("j", 2), Float64("f", 1.5), Bool("b", true),
			Time("t", time.Now()), Duration("d", time.Second), Any("a", []int{1}),
			Error(errors.New("boom")))
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	log := NewNop()
	log.Info("discarded")
	assert.NotNil(t, log.Named("child"))
}
