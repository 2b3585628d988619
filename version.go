package blell

// Version is reported by HCI Read Local Version Information.
type Version struct {
	HCIVersion    uint8
	HCISubversion uint16
	LMPVersion    uint8
	CompanyID     uint16
	LMPSubversion uint16
}

// CoreVersion54 is the HCI/LMP version number of Core Specification 5.4.
const CoreVersion54 = 0x0d

// DefaultVersion is used when no version is configured.
var DefaultVersion = Version{
	HCIVersion: CoreVersion54,
	LMPVersion: CoreVersion54,
	CompanyID:  0xffff,
}
