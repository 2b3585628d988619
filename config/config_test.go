package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/rigado/blell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLoad(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "blell.json"))

	c, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, Config{}, c)

	want := Config{
		PublicAddr:     "c0:ff:ee:00:00:01",
		Firmware:       "1.2.3",
		MaxConnections: 4,
		LocalSCA:       20,
	}
	require.NoError(t, f.Store(want))

	c, err = f.Load()
	require.NoError(t, err)
	assert.Equal(t, want, c)
}

func TestLoadRejectsGarbage(t *testing.T) {
	name := filepath.Join(t.TempDir(), "blell.json")
	require.NoError(t, ioutil.WriteFile(name, []byte("{max_connections"), 0644))
	_, err := New(name).Load()
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	v, err := Config{}.Version()
	require.NoError(t, err)
	assert.Equal(t, blell.DefaultVersion, v)

	v, err = Config{Firmware: "2.5.300", CompanyID: 0x0059}.Version()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0205), v.HCISubversion)
	assert.Equal(t, uint16(300), v.LMPSubversion)
	assert.Equal(t, uint16(0x0059), v.CompanyID)

	_, err = Config{Firmware: "v1"}.Version()
	assert.Error(t, err)
	_, err = Config{Firmware: "256.0.0"}.Version()
	assert.Error(t, err)
}

// recorder collects what the options set.
type recorder struct {
	blell.ControllerOption
	maxConns int
	sca      uint16
	addr     blell.Addr
	version  blell.Version
}

func (r *recorder) SetMaxConnections(n int) error    { r.maxConns = n; return nil }
func (r *recorder) SetLocalSCA(ppm uint16) error     { r.sca = ppm; return nil }
func (r *recorder) SetPublicAddr(a blell.Addr) error { r.addr = a; return nil }
func (r *recorder) SetVersion(v blell.Version) error { r.version = v; return nil }

func TestOptions(t *testing.T) {
	opts, err := Config{PublicAddr: "c0:ff:ee:00:00:01", MaxConnections: 2, LocalSCA: 50}.Options()
	require.NoError(t, err)

	var r recorder
	for _, o := range opts {
		require.NoError(t, o(&r))
	}
	assert.Equal(t, 2, r.maxConns)
	assert.Equal(t, uint16(50), r.sca)
	assert.Equal(t, "c0:ff:ee:00:00:01", r.addr.String())
	assert.Equal(t, blell.DefaultVersion, r.version)

	_, err = Config{PublicAddr: "nope"}.Options()
	assert.Error(t, err)
	_, err = Config{LogLevel: "loud"}.Options()
	assert.Error(t, err)
}
