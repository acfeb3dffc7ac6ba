package usbgadget

type Mode string

const (
	ModeUnbound Mode = "unbound"
	ModeExport  Mode = "export"
	ModeDev     Mode = "dev"
	// ModeConflict means both gadgets report a UDC, which this controller
	// never produces.
	ModeConflict Mode = "conflict"
)

type LunStatus struct {
	Present  bool   `json:"present"`
	File     string `json:"file"`
	ReadOnly bool   `json:"ro"`
}

type GadgetStatus struct {
	Name    string    `json:"name"`
	Role    Mode      `json:"role"`
	Present bool      `json:"present"`
	Udc     string    `json:"udc"`
	Lun     LunStatus `json:"lun"`
}

func (s GadgetStatus) Bound() bool {
	return s.Udc != ""
}

type ModeReport struct {
	Mode    Mode           `json:"mode"`
	Gadgets []GadgetStatus `json:"gadgets"`
}

// Gadget returns the status entry for name, or nil.
func (r *ModeReport) Gadget(name string) *GadgetStatus {
	for i := range r.Gadgets {
		if r.Gadgets[i].Name == name {
			return &r.Gadgets[i]
		}
	}
	return nil
}

// Status reads the current state of both gadgets. It never writes and never
// fails: anything missing is reported as absent.
func (c *Controller) Status() *ModeReport {
	report := &ModeReport{}

	for _, g := range []struct {
		def  *GadgetDefinition
		role Mode
	}{
		{c.export, ModeExport},
		{c.dev, ModeDev},
	} {
		report.Gadgets = append(report.Gadgets, c.gadgetStatus(g.def, g.role))
	}

	export, dev := report.Gadgets[0].Bound(), report.Gadgets[1].Bound()
	switch {
	case export && dev:
		report.Mode = ModeConflict
	case export:
		report.Mode = ModeExport
	case dev:
		report.Mode = ModeDev
	default:
		report.Mode = ModeUnbound
	}
	return report
}

func (c *Controller) gadgetStatus(def *GadgetDefinition, role Mode) GadgetStatus {
	s := GadgetStatus{
		Name:    def.Name,
		Role:    role,
		Present: c.gadgetExists(def),
	}
	if !s.Present {
		return s
	}

	s.Udc, _ = c.configfs.readAttr(gadgetPath(def.Name, udcAttr...))

	file, err := c.configfs.readAttr(gadgetPath(def.Name, lunFileAttr...))
	if err != nil {
		return s
	}
	ro, _ := c.configfs.readAttr(gadgetPath(def.Name, lunRoAttr...))
	s.Lun = LunStatus{
		Present:  true,
		File:     file,
		ReadOnly: ro == "1",
	}
	return s
}
