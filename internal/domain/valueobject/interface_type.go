package valueobject

// InterfaceType identifies the client surface a request arrived from.
type InterfaceType string

const (
	InterfaceTelegram InterfaceType = "TELEGRAM"
	InterfaceWeb      InterfaceType = "WEB"
	InterfaceSlack    InterfaceType = "SLACK"
	InterfaceAPI      InterfaceType = "API"
	InterfaceCLI      InterfaceType = "CLI"
	InterfaceUnknown  InterfaceType = "UNKNOWN"
)

// ParseInterfaceType maps a raw tag to an InterfaceType, falling back
// to InterfaceUnknown for anything unrecognized.
func ParseInterfaceType(s string) InterfaceType {
	switch InterfaceType(s) {
	case InterfaceTelegram, InterfaceWeb, InterfaceSlack, InterfaceAPI, InterfaceCLI:
		return InterfaceType(s)
	}
	return InterfaceUnknown
}

func (t InterfaceType) String() string {
	return string(t)
}
