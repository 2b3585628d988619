// Package config loads controller settings from a JSON file and turns them
// into controller options.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync"

	"github.com/blang/semver"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/blell"
)

// Config mirrors the controller options. Zero fields keep the controller's
// defaults.
type Config struct {
	PublicAddr string `json:"public_addr,omitempty"`

	// Firmware is a semantic version reported through Read Local Version
	// Information: major.minor as the HCI subversion, patch as the LMP
	// subversion.
	Firmware  string `json:"firmware,omitempty"`
	CompanyID uint16 `json:"company_id,omitempty"`

	MaxConnections int    `json:"max_connections,omitempty"`
	MaxCIG         int    `json:"max_cig,omitempty"`
	MaxCIS         int    `json:"max_cis,omitempty"`
	MaxBIG         int    `json:"max_big,omitempty"`
	LocalSCA       uint16 `json:"local_sca_ppm,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	AAMaxAttempts  int    `json:"aa_max_attempts,omitempty"`
	AARetiredSize  int    `json:"aa_retired_size,omitempty"`

	LogLevel string `json:"log_level,omitempty"`
}

// Version returns the version block derived from Firmware and CompanyID.
func (c Config) Version() (blell.Version, error) {
	v := blell.DefaultVersion
	if c.CompanyID != 0 {
		v.CompanyID = c.CompanyID
	}
	if c.Firmware == "" {
		return v, nil
	}

	fw, err := semver.Parse(c.Firmware)
	if err != nil {
		return v, errors.Wrap(err, "firmware")
	}
	if fw.Major > 0xff || fw.Minor > 0xff || fw.Patch > 0xffff {
		return v, fmt.Errorf("firmware %v out of range", fw)
	}
	v.HCISubversion = uint16(fw.Major<<8 | fw.Minor)
	v.LMPSubversion = uint16(fw.Patch)
	return v, nil
}

// Options converts c into controller options.
func (c Config) Options() ([]blell.Option, error) {
	var opts []blell.Option

	if c.PublicAddr != "" {
		a, err := blell.NewAddr(c.PublicAddr)
		if err != nil {
			return nil, errors.Wrap(err, "public_addr")
		}
		opts = append(opts, blell.OptPublicAddr(a))
	}

	v, err := c.Version()
	if err != nil {
		return nil, err
	}
	opts = append(opts, blell.OptVersion(v))

	ints := []struct {
		v   int
		opt func(int) blell.Option
	}{
		{c.MaxConnections, blell.OptMaxConnections},
		{c.MaxCIG, blell.OptMaxCIG},
		{c.MaxCIS, blell.OptMaxCIS},
		{c.MaxBIG, blell.OptMaxBIG},
		{c.QueueSize, blell.OptQueueSize},
		{c.AAMaxAttempts, blell.OptAAMaxAttempts},
		{c.AARetiredSize, blell.OptAARetiredSize},
	}
	for _, o := range ints {
		if o.v != 0 {
			opts = append(opts, o.opt(o.v))
		}
	}
	if c.LocalSCA != 0 {
		opts = append(opts, blell.OptLocalSCA(c.LocalSCA))
	}

	if c.LogLevel != "" {
		if err := blell.SetLogLevel(c.LogLevel); err != nil {
			return nil, errors.Wrap(err, "log_level")
		}
	}
	return opts, nil
}

// File is a config file on disk. A missing file reads as an empty Config.
type File struct {
	filename string
	lock     sync.RWMutex
}

func New(filename string) *File {
	return &File{filename: filename}
}

func (f *File) Load() (Config, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	_, err := os.Stat(f.filename)
	if os.IsNotExist(err) {
		return Config{}, nil
	}

	in, err := ioutil.ReadFile(f.filename)
	if err != nil {
		return Config{}, err
	}

	var c Config
	if err := jsoniter.Unmarshal(in, &c); err != nil {
		return Config{}, errors.Wrapf(err, "can't parse %v", f.filename)
	}
	return c, nil
}

func (f *File) Store(c Config) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	out, err := jsoniter.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(f.filename, out, 0644)
}
