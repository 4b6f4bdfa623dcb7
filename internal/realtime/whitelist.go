package realtime

import "strings"

// methods maps the lowercase whitelist key to the name devices register
var methods = map[string]string{
	"getmessage":           "getMessage",
	"getversion":           "getVersion",
	"setnavdestination":    "setNavDestination",
	"listdatadirectory":    "listDataDirectory",
	"reboot":               "reboot",
	"uploadfiletourl":      "uploadFileToUrl",
	"listuploadqueue":      "listUploadQueue",
	"cancelupload":         "cancelUpload",
	"primeactivated":       "primeActivated",
	"getpublickey":         "getPublicKey",
	"getsshauthorizedkeys": "getSshAuthorizedKeys",
	"getsiminfo":           "getSimInfo",
	"getnetworktype":       "getNetworkType",
	"getnetworks":          "getNetworks",
	"takesnapshot":         "takeSnapshot",
}

// CanonicalMethod matches method case-insensitively against the whitelist
func CanonicalMethod(method string) (string, bool) {
	name, ok := methods[strings.ToLower(method)]
	return name, ok
}

// Methods lists the whitelisted names in device casing
func Methods() []string {
	out := make([]string, 0, len(methods))
	for _, name := range methods {
		out = append(out, name)
	}
	return out
}
