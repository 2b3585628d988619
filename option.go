package blell

// ControllerOption is an interface which the controller should implement to allow using configuration options
type ControllerOption interface {
	SetMaxConnections(n int) error
	SetMaxCIG(n int) error
	SetMaxCIS(n int) error
	SetMaxBIG(n int) error
	SetLocalSCA(ppm uint16) error
	SetQueueSize(n int) error
	SetAAMaxAttempts(n int) error
	SetAARetiredSize(n int) error
	SetPublicAddr(a Addr) error
	SetVersion(v Version) error
	SetErrorHandler(handler func(error)) error
	SetLogger(l Logger) error
}

// An Option is a configuration function, which configures the controller.
type Option func(ControllerOption) error

// OptMaxConnections bounds the number of simultaneous ACL links.
func OptMaxConnections(n int) Option {
	return func(opt ControllerOption) error {
		return opt.SetMaxConnections(n)
	}
}

// OptMaxCIG bounds the number of CIGs.
func OptMaxCIG(n int) Option {
	return func(opt ControllerOption) error {
		return opt.SetMaxCIG(n)
	}
}

// OptMaxCIS bounds the number of CIS contexts across all CIGs.
func OptMaxCIS(n int) Option {
	return func(opt ControllerOption) error {
		return opt.SetMaxCIS(n)
	}
}

// OptMaxBIG bounds the number of BIGs.
func OptMaxBIG(n int) Option {
	return func(opt ControllerOption) error {
		return opt.SetMaxBIG(n)
	}
}

// OptLocalSCA sets the local sleep clock accuracy in ppm.
func OptLocalSCA(ppm uint16) Option {
	return func(opt ControllerOption) error {
		return opt.SetLocalSCA(ppm)
	}
}

// OptQueueSize sets the depth of the controller work queue.
func OptQueueSize(n int) Option {
	return func(opt ControllerOption) error {
		return opt.SetQueueSize(n)
	}
}

// OptAAMaxAttempts bounds the random access address search. 0 means unbounded.
func OptAAMaxAttempts(n int) Option {
	return func(opt ControllerOption) error {
		return opt.SetAAMaxAttempts(n)
	}
}

// OptAARetiredSize sets how many released access addresses are held back from reuse.
func OptAARetiredSize(n int) Option {
	return func(opt ControllerOption) error {
		return opt.SetAARetiredSize(n)
	}
}

// OptPublicAddr sets the controller public device address.
func OptPublicAddr(a Addr) Option {
	return func(opt ControllerOption) error {
		return opt.SetPublicAddr(a)
	}
}

// OptVersion sets what Read Local Version Information reports.
func OptVersion(v Version) Option {
	return func(opt ControllerOption) error {
		return opt.SetVersion(v)
	}
}

// OptErrorHandler sets error handler
func OptErrorHandler(handler func(error)) Option {
	return func(opt ControllerOption) error {
		return opt.SetErrorHandler(handler)
	}
}

// OptLogger overrides the package logger for one controller.
func OptLogger(l Logger) Option {
	return func(opt ControllerOption) error {
		return opt.SetLogger(l)
	}
}
