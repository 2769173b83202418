package elog

import (
	"bytes"
	"io/ioutil"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestCLIFormat(t *testing.T) {

	log := &CLI{DisableTTY: true}

	entry := logrus.WithFields(logrus.Fields{"block": 3, "op": "read"})
	entry.Level = logrus.WarnLevel
	entry.Message = "slow fetch\n"

	b, err := log.Format(entry)
	assert.NoError(t, err)
	assert.Equal(t, "warning: slow fetch block=3 op=read\n", string(b))

	entry = logrus.NewEntry(logrus.StandardLogger())
	entry.Level = logrus.InfoLevel
	entry.Message = "mounted"

	b, err = log.Format(entry)
	assert.NoError(t, err)
	assert.Equal(t, "mounted\n", string(b))
}

func TestCLILevels(t *testing.T) {

	log := &CLI{}
	assert.False(t, log.IsLogLevelEnabled(DebugLevel))
	assert.False(t, log.IsLogLevelEnabled(InfoLevel))
	assert.True(t, log.IsLogLevelEnabled(WarnLevel))

	log.IsVerbose = true
	assert.True(t, log.IsLogLevelEnabled(InfoLevel))
	assert.False(t, log.IsLogLevelEnabled(DebugLevel))

	log.IsDebug = true
	assert.True(t, log.IsLogLevelEnabled(DebugLevel))
}

func TestProgressWithoutTTY(t *testing.T) {

	log := &CLI{DisableTTY: true}
	p := log.NewProgress("copy", "KiB", 100)
	assert.IsType(t, nopProgress{}, p)

	rc := p.ProxyReader(bytes.NewReader([]byte("abc")))
	data, err := ioutil.ReadAll(rc)
	assert.NoError(t, err)
	assert.Equal(t, "abc", string(data))
	p.Increment(3)
	p.Finish(true)
	p.Finish(false)
}

func TestDiscard(t *testing.T) {
	Discard.Infof("nothing %d", 1)
	assert.False(t, Discard.IsLogLevelEnabled(ErrorLevel))
	p := Discard.NewProgress("x", "", 1)
	assert.NotNil(t, p)
	p.Finish(true)
}
