package usbgadget

import "path"

const (
	gadgetRootDir = "usb_gadget"
	langId        = "0x409" // en-US
	configName    = "c.1"

	massStorageFunction = "mass_storage.0"
	lunName             = "lun.0"
)

// gadget attribute locations, relative to the gadget root
var (
	udcAttr = []string{"UDC"}

	deviceStringsDir = []string{"strings", langId}
	configDir        = []string{"configs", configName}
	configStringsDir = []string{"configs", configName, "strings", langId}

	massStorageDir  = []string{"functions", massStorageFunction}
	massStorageLink = []string{"configs", configName, massStorageFunction}
	lunDir          = []string{"functions", massStorageFunction, lunName}
	lunFileAttr     = []string{"functions", massStorageFunction, lunName, "file"}
	lunRoAttr       = []string{"functions", massStorageFunction, lunName, "ro"}

	// massStorageLink points here, resolved from configs/c.1
	massStorageLinkTarget = path.Join("..", "..", "functions", massStorageFunction)
)

// gadgetPath builds the configfs-relative path of elem under gadget name.
func gadgetPath(name string, elem ...string) string {
	return path.Join(append([]string{gadgetRootDir, name}, elem...)...)
}
