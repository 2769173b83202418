package cli

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/vhdmount/pkg/elog"
	"github.com/vorteil/vhdmount/pkg/partitions"
	"github.com/vorteil/vhdmount/pkg/vhd"
	"github.com/vorteil/vhdmount/pkg/vhd/vhdtest"
)

const testBlock = 4096

func resetConfig() {
	InitializeCommands()
	viper.Reset()
	bindFlags()
}

func writeTemp(t *testing.T, dir, name string, data []byte) string {
	path := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(path, data, 0644))
	return path
}

func testImage() (img []byte, virtual []byte) {
	a := bytes.Repeat([]byte{0xAA}, testBlock)
	c := bytes.Repeat([]byte{0xCC}, testBlock)

	virtual = make([]byte, 4*testBlock)
	copy(virtual, a)
	copy(virtual[2*testBlock:], c)

	img = vhdtest.NewDynamic(4*testBlock, testBlock).
		Block(0, a).
		Block(2, c).
		Bytes()
	return img, virtual
}

func TestConfigFile(t *testing.T) {

	resetConfig()

	dir, err := ioutil.TempDir("", "vhdmount")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := writeTemp(t, dir, "config.yaml", []byte(`
verbose: true
mount:
  partitions: true
  max-inflight: 4
checksum:
  strict: true
s3:
  region: ap-southeast-2
azure:
  account-name: images
`))

	require.NoError(t, initConfig(path, elog.Discard))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Verbose)
	assert.True(t, cfg.Mount.Partitions)
	assert.False(t, cfg.Mount.AllowOther)
	assert.Equal(t, 4, cfg.Mount.MaxInFlight)
	assert.True(t, cfg.Checksum.Strict)

	opts := cfg.containerOptions()
	assert.Equal(t, "ap-southeast-2", opts.S3.Region)
	assert.Equal(t, "images", opts.Azure.AccountName)
	assert.Equal(t, "", opts.Azure.AccountKey)
	assert.Equal(t, 4, opts.MaxInFlight)

	dopts := cfg.diskOptions(elog.Discard)
	assert.True(t, dopts.StrictChecksums)
}

func TestConfigEnvironment(t *testing.T) {

	resetConfig()

	os.Setenv("VHDMOUNT_S3_ENDPOINT", "http://localhost:9000")
	os.Setenv("VHDMOUNT_MOUNT_ALLOW_OTHER", "true")
	defer os.Unsetenv("VHDMOUNT_S3_ENDPOINT")
	defer os.Unsetenv("VHDMOUNT_MOUNT_ALLOW_OTHER")

	dir, err := ioutil.TempDir("", "vhdmount")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := writeTemp(t, dir, "config.yaml", []byte("s3:\n  endpoint: http://ignored\n"))
	require.NoError(t, initConfig(path, elog.Discard))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.S3.Endpoint)
	assert.True(t, cfg.Mount.AllowOther)
}

func TestConfigMissingFile(t *testing.T) {

	resetConfig()

	err := initConfig("/does/not/exist.yaml", elog.Discard)
	assert.Error(t, err)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Mount.MaxInFlight)
	assert.False(t, cfg.Checksum.Strict)
}

func TestVersionRows(t *testing.T) {

	rows := versionRows()
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"version", release}, rows[1])

	resetConfig()
	RootCommand.SetArgs([]string{"version", "--format", "yaml"})
	assert.Error(t, RootCommand.Execute())
	flagVersionFormat = ""
}

func TestMountArgs(t *testing.T) {

	location, dir := mountArgs([]string{"disk.vhd"})
	assert.Equal(t, "disk.vhd", location)
	assert.Equal(t, "./vhd-mount", dir)

	location, dir = mountArgs([]string{"s3://bucket/disk.vhd", "/mnt/x"})
	assert.Equal(t, "s3://bucket/disk.vhd", location)
	assert.Equal(t, "/mnt/x", dir)
}

func TestExitCode(t *testing.T) {

	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, ExitMalformed, ExitCode(errors.Wrap(vhd.ErrMalformedContainer, "opening 'x'")))
	assert.Equal(t, ExitMalformed, ExitCode(vhd.ErrInvalidBlockSize))
	assert.Equal(t, ExitUnsupported, ExitCode(errors.Wrapf(vhd.ErrUnsupportedDiskType, "fixed disk")))
	assert.Equal(t, ExitIO, ExitCode(&vhd.IOError{Op: "read", Err: errors.New("gone")}))
	assert.Equal(t, ExitInterrupted, ExitCode(context.Canceled))
	assert.Equal(t, ExitGeneral, ExitCode(errors.New("other")))

	SetError(vhd.ErrIO, ExitIO)
	code, err := LastError()
	assert.Equal(t, ExitIO, code)
	assert.Equal(t, vhd.ErrIO, err)
	SetError(nil, 0)
}

func TestCat(t *testing.T) {

	resetConfig()

	dir, err := ioutil.TempDir("", "vhdmount")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	img, virtual := testImage()
	path := writeTemp(t, dir, "disk.vhd", img)
	out := filepath.Join(dir, "out.raw")

	RootCommand.SetArgs([]string{"disk", "cat", path, "--offset", "100", "--length", "10000", "--output", out})
	require.NoError(t, RootCommand.Execute())

	got, err := ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, virtual[100:10100], got)

	// the hidden shortcut reads to the end by default
	RootCommand.SetArgs([]string{"cat", path, "--offset", "0", "--length", "-1", "-o", out})
	require.NoError(t, RootCommand.Execute())

	got, err = ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, virtual, got)
}

func TestCatStdoutCarriesOnlyDiskBytes(t *testing.T) {

	resetConfig()

	dir, err := ioutil.TempDir("", "vhdmount")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	// a broken leading footer forces a warning and the trailing fallback
	img, virtual := testImage()
	img[64] ^= 0xFF
	path := writeTemp(t, dir, "badsum.vhd", img)

	r, w, err := os.Pipe()
	require.NoError(t, err)

	stdout := os.Stdout
	os.Stdout = w
	defer func() {
		os.Stdout = stdout
		flagDebug = false
	}()

	captured := make(chan []byte)
	go func() {
		b, _ := ioutil.ReadAll(r)
		captured <- b
	}()

	RootCommand.SetArgs([]string{"disk", "cat", path, "--debug", "--offset", "4090", "--length", "16", "-o", "-"})
	err = RootCommand.Execute()
	os.Stdout = stdout
	w.Close()
	require.NoError(t, err)

	assert.Equal(t, virtual[4090:4106], <-captured)
}

func TestCopyRangeClamped(t *testing.T) {

	img, virtual := testImage()
	disk, err := vhd.Open(context.Background(), vhdtest.Memory(img), nil)
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	n, err := copyRange(context.Background(), buf, disk, int64(len(virtual))-10, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, virtual[len(virtual)-10:], buf.Bytes())

	buf.Reset()
	n, err = copyRange(context.Background(), buf, disk, int64(len(virtual))+10, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = copyRange(ctx, buf, disk, 0, -1)
	assert.True(t, errors.Is(err, context.Canceled))
}

type busyMount struct {
	failures int
	calls    int
	released chan struct{}
}

func (m *busyMount) Unmount() error {
	m.calls++
	if m.calls <= m.failures {
		return errors.New("device or resource busy")
	}
	close(m.released)
	return nil
}

func (m *busyMount) Wait() {
	<-m.released
}

func TestServeRetriesUnmount(t *testing.T) {

	m := &busyMount{failures: 1, released: make(chan struct{})}
	sigs := make(chan os.Signal, 2)
	sigs <- os.Interrupt
	sigs <- os.Interrupt

	serve(m, "/mnt/test", sigs)
	assert.Equal(t, 2, m.calls)
}

func TestServeExternalUnmount(t *testing.T) {

	m := &busyMount{released: make(chan struct{})}
	close(m.released)

	serve(m, "/mnt/test", make(chan os.Signal))
	assert.Equal(t, 0, m.calls)
}

func TestMountRejectsFixed(t *testing.T) {

	resetConfig()

	dir, err := ioutil.TempDir("", "vhdmount")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := writeTemp(t, dir, "fixed.vhd", vhdtest.Fixed(make([]byte, 4*testBlock)))
	mnt := filepath.Join(dir, "mnt")

	RootCommand.SetArgs([]string{path, mnt})
	err = RootCommand.Execute()
	assert.True(t, errors.Is(err, vhd.ErrUnsupportedDiskType))
	assert.Equal(t, ExitUnsupported, ExitCode(err))

	// the mount point is created before the image is opened
	fi, err := os.Stat(mnt)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	RootCommand.SetArgs([]string{filepath.Join(dir, "missing.vhd"), mnt})
	err = RootCommand.Execute()
	assert.Error(t, err)
	assert.Equal(t, ExitGeneral, ExitCode(err))
}

func TestDescribe(t *testing.T) {

	img, _ := testImage()
	md, err := vhd.ReadMetadata(context.Background(), vhdtest.Memory(img), nil)
	require.NoError(t, err)

	bat, err := vhd.LoadBAT(context.Background(), vhdtest.Memory(img), md.Header)
	require.NoError(t, err)

	rows := describe(int64(len(img)), md, bat)
	fields := make(map[string]string)
	for _, row := range rows {
		require.Len(t, row, 2)
		fields[row[0]] = row[1]
	}

	assert.Equal(t, "VALUE", fields["FIELD"])
	assert.Equal(t, "dynamic", fields["Disk type"])
	assert.Equal(t, "16K (16384 bytes)", fields["Virtual size"])
	assert.Equal(t, "vhdm 1.0 (Wi2k)", fields["Creator"])
	assert.Equal(t, "valid", fields["Footer checksum"])
	assert.Equal(t, "76686474-6573-742d-756e-697175652d30", fields["Unique ID"])
	assert.Equal(t, "valid", fields["Header checksum"])
	assert.Equal(t, "4", fields["Table entries"])
	assert.Equal(t, "2 / 4", fields["Allocated blocks"])
	assert.NotContains(t, fields, "Parent")

	fixed := vhdtest.Fixed(make([]byte, testBlock))
	md, err = vhd.ReadMetadata(context.Background(), vhdtest.Memory(fixed), nil)
	require.NoError(t, err)

	rows = describe(int64(len(fixed)), md, nil)
	fields = make(map[string]string)
	for _, row := range rows {
		fields[row[0]] = row[1]
	}
	assert.Equal(t, "fixed", fields["Disk type"])
	assert.NotContains(t, fields, "Block size")
}

func TestPartitionRows(t *testing.T) {

	rows := partitionRows(&partitions.Table{
		Type: "gpt",
		Partitions: []partitions.Partition{
			{Index: 2, Name: "root", Type: "0FC63DAF-8483-4772-8E79-3D69D8477DE4", Start: 1048576, Size: 8 << 20},
		},
	})

	require.Len(t, rows, 2)
	assert.Equal(t, []string{"2", "vhdi1p2", "0FC63DAF-8483-4772-8E79-3D69D8477DE4", "root", "1048576", "8M"}, rows[1])
}
