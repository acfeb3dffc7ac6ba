package usbgadget

import (
	"sort"
)

// Config holds the descriptors written into a managed gadget.
type Config struct {
	VendorId      string
	ProductId     string
	BcdDevice     string
	BcdUSB        string
	SerialNumber  string
	Manufacturer  string
	Product       string
	Configuration string
	Stall         bool
	Removable     bool
}

// GadgetDefinition names one configfs gadget. Managed gadgets are created
// and destroyed here; the rest (such as the L4T vendor gadget) are only
// bound and unbound.
type GadgetDefinition struct {
	Name    string
	Managed bool
	config  *Config
}

func NewGadgetDefinition(name string, config *Config) *GadgetDefinition {
	return &GadgetDefinition{
		Name:    name,
		Managed: true,
		config:  config,
	}
}

func ExternalGadget(name string) *GadgetDefinition {
	return &GadgetDefinition{Name: name}
}

type gadgetAttributes map[string]string

type gadgetConfigItem struct {
	order      uint
	path       []string
	configPath []string
	attrs      gadgetAttributes
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d *GadgetDefinition) configItems() []gadgetConfigItem {
	c := d.config
	items := []gadgetConfigItem{
		{
			order: 0,
			attrs: gadgetAttributes{
				"idVendor":  c.VendorId,
				"idProduct": c.ProductId,
				"bcdDevice": c.BcdDevice,
				"bcdUSB":    c.BcdUSB,
			},
		},
		{
			order: 1,
			path:  deviceStringsDir,
			attrs: gadgetAttributes{
				"serialnumber": c.SerialNumber,
				"manufacturer": c.Manufacturer,
				"product":      c.Product,
			},
		},
		{
			order: 2,
			path:  configDir,
		},
		{
			order: 3,
			path:  configStringsDir,
			attrs: gadgetAttributes{
				"configuration": c.Configuration,
			},
		},
	}
	items = append(items, massStorageItems(c)...)

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].order < items[j].order
	})
	return items
}

// sortedKeys keeps attribute writes in a stable order.
func (a gadgetAttributes) sortedKeys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
