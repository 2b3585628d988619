package ll

import (
	"github.com/pkg/errors"
	"github.com/rigado/blell"
	"github.com/rigado/blell/hci"
)

// SetMaxConnections bounds the number of simultaneous ACL links.
func (c *Controller) SetMaxConnections(n int) error {
	if n < 1 || n > hci.MaxConnHandle {
		return errors.Errorf("invalid max connections %v", n)
	}
	c.maxConns = n
	return nil
}

// SetMaxCIG bounds the number of CIGs.
func (c *Controller) SetMaxCIG(n int) error {
	if n < 0 || n > 0xef {
		return errors.Errorf("invalid max cig %v", n)
	}
	c.maxCIG = n
	return nil
}

// SetMaxCIS bounds the number of CIS contexts.
func (c *Controller) SetMaxCIS(n int) error {
	if n < 0 {
		return errors.Errorf("invalid max cis %v", n)
	}
	c.maxCIS = n
	return nil
}

// SetMaxBIG bounds the number of BIGs.
func (c *Controller) SetMaxBIG(n int) error {
	if n < 0 || n > 0xef {
		return errors.Errorf("invalid max big %v", n)
	}
	c.maxBIG = n
	return nil
}

// SetLocalSCA sets the local sleep clock accuracy in ppm.
func (c *Controller) SetLocalSCA(ppm uint16) error {
	if ppm == 0 || ppm > 500 {
		return errors.Errorf("invalid sleep clock accuracy %v ppm", ppm)
	}
	c.localSCA = ppm
	return nil
}

// SetQueueSize sets the depth of the work queue.
func (c *Controller) SetQueueSize(n int) error {
	if n < 1 {
		return errors.Errorf("invalid queue size %v", n)
	}
	c.queueSize = n
	return nil
}

// SetAAMaxAttempts bounds the access address search; 0 is unbounded.
func (c *Controller) SetAAMaxAttempts(n int) error {
	if n < 0 {
		return errors.Errorf("invalid access address attempts %v", n)
	}
	c.aaMaxAttempts = n
	return nil
}

// SetAARetiredSize sets how many released access addresses are held back.
func (c *Controller) SetAARetiredSize(n int) error {
	if n < 0 {
		return errors.Errorf("invalid retired size %v", n)
	}
	c.aaRetiredSize = n
	return nil
}

// SetPublicAddr sets the public device address.
func (c *Controller) SetPublicAddr(a blell.Addr) error {
	c.publicAddr = a
	return nil
}

// SetVersion sets what Read Local Version Information reports.
func (c *Controller) SetVersion(v blell.Version) error {
	c.version = v
	return nil
}

// SetErrorHandler sets the handler for errors that have no caller to return to.
func (c *Controller) SetErrorHandler(f func(error)) error {
	c.errorHandler = f
	return nil
}

// SetLogger overrides the package logger.
func (c *Controller) SetLogger(l blell.Logger) error {
	if l == nil {
		return errors.New("nil logger")
	}
	c.log = l
	return nil
}
