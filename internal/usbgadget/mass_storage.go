package usbgadget

// Mass Storage function, linked into configs/c.1
var massStorageBaseConfig = gadgetConfigItem{
	order:      4000,
	path:       massStorageDir,
	configPath: massStorageLink,
}

// LUN 0; file and ro are owned by SetBackingFile
var massStorageLun0Config = gadgetConfigItem{
	order: 4001,
	path:  lunDir,
}

func massStorageItems(c *Config) []gadgetConfigItem {
	base := massStorageBaseConfig
	base.attrs = gadgetAttributes{
		"stall": boolAttr(c.Stall),
	}

	lun := massStorageLun0Config
	lun.attrs = gadgetAttributes{
		"removable": boolAttr(c.Removable),
	}

	return []gadgetConfigItem{base, lun}
}
